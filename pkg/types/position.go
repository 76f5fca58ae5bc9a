package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PositionStatus is the lifecycle state of a two-leg position.
type PositionStatus string

const (
	PositionPending PositionStatus = "pending"
	PositionOpened  PositionStatus = "opened"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
	PositionError   PositionStatus = "error"
)

// ParsePositionStatus maps a stored status string; unknown strings map to
// PositionError so a corrupt record never looks healthy.
func ParsePositionStatus(raw string) PositionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return PositionPending
	case "opened":
		return PositionOpened
	case "closing":
		return PositionClosing
	case "closed":
		return PositionClosed
	default:
		return PositionError
	}
}

// Position is a hedged pair of legs across two venues. Leg A is always the
// BUY side and leg B the SELL side; scenario B decides at creation which
// venue gets which leg. The in-memory struct is a cache over the event log:
// the durable truth is the recorded event sequence.
type Position struct {
	ID       string
	Scenario Scenario

	VenueA  string
	SymbolA string
	SideA   Side
	QtyA    float64

	VenueB  string
	SymbolB string
	SideB   Side
	QtyB    float64

	EntryPriceA float64
	EntryPriceB float64
	EntrySpread float64
	OrderIDA    string
	OrderIDB    string

	ExitSpread float64
	PnL        float64

	Status    PositionStatus
	CreatedAt time.Time
	OpenedAt  time.Time
	ClosedAt  time.Time
}

// NewPosition creates a pending position with a fresh id. venueA carries the
// BUY leg, venueB the SELL leg.
func NewPosition(scenario Scenario, venueA, symbolA string, qtyA float64, venueB, symbolB string, qtyB float64) *Position {
	return &Position{
		ID:        uuid.NewString(),
		Scenario:  scenario,
		VenueA:    venueA,
		SymbolA:   symbolA,
		SideA:     BUY,
		QtyA:      qtyA,
		VenueB:    venueB,
		SymbolB:   symbolB,
		SideB:     SELL,
		QtyB:      qtyB,
		Status:    PositionPending,
		CreatedAt: time.Now().UTC(),
	}
}

// PositionSpread is the relative price difference between the two legs as
// seen from the position's convention: scenario A measures leg A's premium
// over leg B, scenario B measures leg B's premium over leg A (leg A bought
// the cheap venue). A zero denominator yields 0.
func PositionSpread(scenario Scenario, priceA, priceB float64) float64 {
	switch scenario {
	case ScenarioB:
		if priceA == 0 {
			return 0
		}
		return (priceB - priceA) / priceA
	default:
		if priceB == 0 {
			return 0
		}
		return (priceA - priceB) / priceB
	}
}

// MarkOpened records both entry fills and moves the position to OPENED.
func (p *Position) MarkOpened(entryPriceA, entryPriceB float64) {
	p.EntryPriceA = entryPriceA
	p.EntryPriceB = entryPriceB
	p.EntrySpread = PositionSpread(p.Scenario, entryPriceA, entryPriceB)
	p.OpenedAt = time.Now().UTC()
	p.Status = PositionOpened
}

// MarkClosing moves an opened position into the exit flow.
func (p *Position) MarkClosing() {
	p.Status = PositionClosing
}

// MarkClosed records both exit fills, computes PnL, and moves the position
// to CLOSED. Leg A is long and leg B is short, so:
//
//	pnl = (exitA - entryA) * qtyA + (entryB - exitB) * qtyB
func (p *Position) MarkClosed(exitPriceA, exitPriceB float64) {
	p.ExitSpread = PositionSpread(p.Scenario, exitPriceA, exitPriceB)
	p.PnL = (exitPriceA-p.EntryPriceA)*p.QtyA + (p.EntryPriceB-exitPriceB)*p.QtyB
	p.ClosedAt = time.Now().UTC()
	p.Status = PositionClosed
}

// MarkError moves the position to the terminal ERROR state.
func (p *Position) MarkError() {
	p.Status = PositionError
}

// IsTerminal reports whether the position can no longer change state.
func (p *Position) IsTerminal() bool {
	return p.Status == PositionClosed || p.Status == PositionError
}
