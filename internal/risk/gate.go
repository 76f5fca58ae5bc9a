// Package risk runs the pre-trade checks that gate every order.
//
// The gate answers three questions before the coordinator touches a venue:
// is there room for another position, does the perpetual leg have its
// leverage configured, and does the account hold enough quote currency. It
// also owns the post-trade execution check the coordinator uses to decide
// whether a leg confirmed. The open-position count always comes from the
// history store, never from memory, so the limit survives restarts.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"parcer/internal/config"
	"parcer/internal/exchange"
	"parcer/pkg/symbols"
	"parcer/pkg/types"
)

// fallbackOrderQty sizes an order when no price hint is available and
// trading.default_order_qty is unset.
const fallbackOrderQty = 0.001

// InsufficientBalanceError rejects an entry whose margin requirement exceeds
// the free quote balance on a venue.
type InsufficientBalanceError struct {
	Venue     string
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: required %.2f, available %.2f",
		e.Venue, e.Required, e.Available)
}

// Shortfall is how much quote currency is missing.
func (e *InsufficientBalanceError) Shortfall() float64 {
	return e.Required - e.Available
}

// MaxPositionsError rejects an entry when the open-position cap is reached.
type MaxPositionsError struct {
	Current int
	Max     int
}

func (e *MaxPositionsError) Error() string {
	return fmt.Sprintf("Maximum positions limit reached: %d/%d", e.Current, e.Max)
}

// ExecutionDiscrepancyError means a venue's order response does not match
// the intent: wrong status, or filled quantity off by more than tolerance.
type ExecutionDiscrepancyError struct {
	OrderID string
	Reason  string
}

func (e *ExecutionDiscrepancyError) Error() string {
	return fmt.Sprintf("execution discrepancy for order %s: %s", e.OrderID, e.Reason)
}

// OpenPositionCounter is the slice of the history store the gate needs.
type OpenPositionCounter interface {
	CountOpenPositions() (int, error)
}

// Gate performs the pre-trade checks.
type Gate struct {
	cfg     config.TradingConfig
	counter OpenPositionCounter
	logger  *slog.Logger
}

// NewGate creates a gate backed by the given open-position counter.
func NewGate(cfg config.TradingConfig, counter OpenPositionCounter, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		counter: counter,
		logger:  logger.With("component", "risk"),
	}
}

// CheckPositionLimit rejects when the number of open positions has reached
// max_positions. A limit of zero blocks every entry.
func (g *Gate) CheckPositionLimit() error {
	count, err := g.counter.CountOpenPositions()
	if err != nil {
		return fmt.Errorf("count open positions: %w", err)
	}
	if count >= g.cfg.MaxPositions {
		return &MaxPositionsError{Current: count, Max: g.cfg.MaxPositions}
	}
	return nil
}

// IsPerpetual reports whether the symbol names a perpetual/swap instrument,
// by substring match against the configured markers.
func (g *Gate) IsPerpetual(symbol string) bool {
	s := symbols.Normalize(symbol)
	markers := g.cfg.PerpMarkers
	if len(markers) == 0 {
		markers = []string{"PERP", "SWAP"}
	}
	for _, m := range markers {
		if m != "" && strings.Contains(s, strings.ToUpper(m)) {
			return true
		}
	}
	return false
}

// SetLeverageIfNeeded configures leverage on a perpetual symbol. Spot
// symbols are skipped entirely. Failures, including venues that do not
// support leverage, are logged and swallowed: a missing leverage setting is
// not worth aborting an entry over.
func (g *Gate) SetLeverageIfNeeded(ctx context.Context, client exchange.VenueClient, symbol string) {
	if !g.IsPerpetual(symbol) {
		return
	}
	err := client.SetLeverage(ctx, g.cfg.Leverage, symbol)
	switch {
	case err == nil:
	case errors.Is(err, exchange.ErrUnsupported):
		g.logger.Debug("venue does not support leverage",
			"venue", client.Name(), "symbol", symbol)
	default:
		g.logger.Warn("set leverage failed",
			"venue", client.Name(), "symbol", symbol, "error", err)
	}
}

// CheckBalance verifies the venue holds enough free quote currency for the
// margin requirement (quantity * price / leverage). Without a price hint
// the check is skipped with a warning rather than blocking the entry.
func (g *Gate) CheckBalance(ctx context.Context, client exchange.VenueClient, quantity, priceHint float64) error {
	if priceHint <= 0 {
		g.logger.Warn("no price hint, skipping balance check", "venue", client.Name())
		return nil
	}

	asset := g.cfg.QuoteAsset
	if asset == "" {
		asset = "USDT"
	}
	balance, err := client.GetBalance(ctx, asset)
	if err != nil {
		return fmt.Errorf("fetch %s balance on %s: %w", asset, client.Name(), err)
	}

	leverage := g.cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	required := quantity * priceHint / leverage
	if required > balance.Free {
		return &InsufficientBalanceError{
			Venue:     client.Name(),
			Required:  required,
			Available: balance.Free,
		}
	}
	return nil
}

// OrderQuantity sizes one leg: fixed_order_size quote units at the hinted
// price, or the configured default quantity when no price is known yet.
func (g *Gate) OrderQuantity(priceHint float64) float64 {
	if priceHint > 0 && g.cfg.FixedOrderSize > 0 {
		return g.cfg.FixedOrderSize / priceHint
	}
	if g.cfg.DefaultOrderQty > 0 {
		return g.cfg.DefaultOrderQty
	}
	return fallbackOrderQty
}

// ValidateExecution confirms an order response: the status must be FILLED
// and, when the venue reported a fill quantity, it must be within
// qty_tolerance of the request.
func (g *Gate) ValidateExecution(order types.Order, requestedQty float64) error {
	if order.Status != types.StatusFilled {
		return &ExecutionDiscrepancyError{
			OrderID: order.ID,
			Reason:  fmt.Sprintf("status %q, want filled", order.Raw),
		}
	}

	tolerance := g.cfg.QtyTolerance
	if tolerance <= 0 {
		tolerance = 0.01
	}
	if order.Filled > 0 && requestedQty > 0 {
		gap := (order.Filled - requestedQty) / requestedQty
		if gap < 0 {
			gap = -gap
		}
		if gap > tolerance {
			return &ExecutionDiscrepancyError{
				OrderID: order.ID,
				Reason: fmt.Sprintf("filled %v of requested %v exceeds tolerance %v",
					order.Filled, requestedQty, tolerance),
			}
		}
	}
	return nil
}
