// Package orders drives two-leg positions through their entry and exit
// state machines.
//
// Market orders on two independent venues cannot be committed atomically, so
// the coordinator works by forward compensation: a leg that fails or comes
// back unconfirmed is cancelled best-effort, and the already-confirmed
// counter-leg is flattened with a reverse-side market order. Every step,
// including every compensating order, lands in the history store; a failed
// compensation is recorded and the position stays in ERROR as a
// manual-intervention signal. Unhappy paths never propagate errors to the
// strategy: entry and exit report a plain "did it happen" bool.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"parcer/internal/exchange"
	"parcer/internal/history"
	"parcer/internal/risk"
	"parcer/pkg/types"
)

// Coordinator owns every active position. Each position is mutated by one
// coordinator invocation at a time; steps within an invocation run strictly
// sequentially, because placing leg B before leg A is validated would make
// the cleanup logic ambiguous.
type Coordinator struct {
	clients map[string]exchange.VenueClient
	gate    *risk.Gate
	store   *history.Store
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*types.Position
}

// NewCoordinator creates a coordinator over the given venue clients.
func NewCoordinator(clients map[string]exchange.VenueClient, gate *risk.Gate, store *history.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		clients: clients,
		gate:    gate,
		store:   store,
		logger:  logger.With("component", "coordinator"),
		active:  make(map[string]*types.Position),
	}
}

// CreatePosition builds a pending position and records its creation event.
// Venue A carries the BUY leg, venue B the SELL leg.
func (c *Coordinator) CreatePosition(scenario types.Scenario, venueA, symbolA, venueB, symbolB string, qty float64) *types.Position {
	pos := types.NewPosition(scenario, venueA, symbolA, qty, venueB, symbolB, qty)
	c.store.Record(history.Event{
		Type:       history.EventPositionCreated,
		PositionID: pos.ID,
		Scenario:   pos.Scenario,
		ExchangeA:  pos.VenueA,
		ExchangeB:  pos.VenueB,
		SymbolA:    pos.SymbolA,
		SymbolB:    pos.SymbolB,
		Quantity:   qty,
		Status:     string(pos.Status),
	})
	return pos
}

// ActivePositions returns the positions currently held open in memory.
func (c *Coordinator) ActivePositions() []*types.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Position, 0, len(c.active))
	for _, p := range c.active {
		out = append(out, p)
	}
	return out
}

// GetPosition returns an active position, falling back to the event log for
// positions from a previous run.
func (c *Coordinator) GetPosition(id string) (*types.Position, error) {
	c.mu.Lock()
	p, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		return p, nil
	}
	return c.store.LoadPosition(id)
}

// Adopt registers a recovered position as active without replaying its
// entry. Used at startup for positions whose latest event left them OPENED.
func (c *Coordinator) Adopt(pos *types.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[pos.ID] = pos
}

func (c *Coordinator) addActive(pos *types.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[pos.ID] = pos
}

func (c *Coordinator) removeActive(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

// OpenPosition runs the entry state machine: risk gate, place and validate
// leg A, place and validate leg B. It returns true only when both legs
// confirmed and the position is OPENED; every other outcome leaves both
// venues flat (best effort), the position in ERROR, and returns false.
func (c *Coordinator) OpenPosition(ctx context.Context, pos *types.Position, priceHintA, priceHintB float64) bool {
	clientA, clientB, err := c.legClients(pos)
	if err != nil {
		c.failPosition(pos, err.Error())
		return false
	}

	if !c.runRiskGate(ctx, pos, clientA, clientB, priceHintA, priceHintB) {
		return false
	}

	// Leg A.
	orderA, err := clientA.PlaceMarketOrder(ctx, pos.SymbolA, pos.SideA, pos.QtyA)
	if err != nil {
		c.recordOrderEvent(history.EventOrderFailed, pos, pos.VenueA, pos.SymbolA, pos.SideA, pos.QtyA, types.Order{}, err.Error(), nil)
		c.failPosition(pos, fmt.Sprintf("leg A placement failed: %v", err))
		return false
	}
	c.recordOrderEvent(history.EventOrderPlaced, pos, pos.VenueA, pos.SymbolA, pos.SideA, pos.QtyA, orderA, "", nil)

	if err := c.gate.ValidateExecution(orderA, pos.QtyA); err != nil {
		c.cleanupUnconfirmed(ctx, pos, clientA, pos.SymbolA, orderA, pos.SideA, pos.QtyA, "leg A unconfirmed")
		c.failPosition(pos, fmt.Sprintf("leg A validation failed: %v", err))
		return false
	}

	// Leg B.
	orderB, err := clientB.PlaceMarketOrder(ctx, pos.SymbolB, pos.SideB, pos.QtyB)
	if err != nil {
		c.recordOrderEvent(history.EventOrderFailed, pos, pos.VenueB, pos.SymbolB, pos.SideB, pos.QtyB, types.Order{}, err.Error(), nil)
		c.hedge(ctx, pos, clientA, pos.SymbolA, pos.SideA, pos.QtyA, orderA.ID, "leg B placement failed")
		c.failPosition(pos, fmt.Sprintf("leg B placement failed: %v", err))
		return false
	}
	c.recordOrderEvent(history.EventOrderPlaced, pos, pos.VenueB, pos.SymbolB, pos.SideB, pos.QtyB, orderB, "", nil)

	if err := c.gate.ValidateExecution(orderB, pos.QtyB); err != nil {
		c.cleanupUnconfirmed(ctx, pos, clientB, pos.SymbolB, orderB, pos.SideB, pos.QtyB, "leg B unconfirmed")
		c.hedge(ctx, pos, clientA, pos.SymbolA, pos.SideA, pos.QtyA, orderA.ID, "leg B unconfirmed")
		c.failPosition(pos, fmt.Sprintf("leg B validation failed: %v", err))
		return false
	}

	// Both legs confirmed.
	pos.OrderIDA, pos.OrderIDB = orderA.ID, orderB.ID
	pos.MarkOpened(fillPrice(orderA, priceHintA), fillPrice(orderB, priceHintB))
	c.addActive(pos)
	c.store.Record(history.Event{
		Type:       history.EventPositionOpened,
		PositionID: pos.ID,
		Scenario:   pos.Scenario,
		ExchangeA:  pos.VenueA,
		ExchangeB:  pos.VenueB,
		SymbolA:    pos.SymbolA,
		SymbolB:    pos.SymbolB,
		Quantity:   pos.QtyA,
		Price:      pos.EntrySpread,
		Status:     string(pos.Status),
		Metadata: map[string]any{
			"entry_price_a":  pos.EntryPriceA,
			"entry_price_b":  pos.EntryPriceB,
			"leg_a_order_id": pos.OrderIDA,
			"leg_b_order_id": pos.OrderIDB,
		},
	})
	c.logger.Info("position opened",
		"position", pos.ID,
		"entry_spread", pos.EntrySpread,
		"entry_a", pos.EntryPriceA,
		"entry_b", pos.EntryPriceB)
	return true
}

// ClosePosition runs the exit state machine for an OPENED position: reverse
// leg A, then reverse leg B, validating each. Compensation on exit failures
// restores the hedge rather than leaving one leg naked.
func (c *Coordinator) ClosePosition(ctx context.Context, pos *types.Position) bool {
	if pos.Status != types.PositionOpened {
		c.logger.Warn("close requested for non-open position",
			"position", pos.ID, "status", pos.Status)
		return false
	}
	clientA, clientB, err := c.legClients(pos)
	if err != nil {
		c.failPosition(pos, err.Error())
		return false
	}

	pos.MarkClosing()
	exitSideA := pos.SideA.Opposite()
	exitSideB := pos.SideB.Opposite()

	// Exit leg A.
	exitA, err := clientA.PlaceMarketOrder(ctx, pos.SymbolA, exitSideA, pos.QtyA)
	if err != nil {
		c.recordOrderEvent(history.EventOrderFailed, pos, pos.VenueA, pos.SymbolA, exitSideA, pos.QtyA, types.Order{}, err.Error(), nil)
		c.failPosition(pos, fmt.Sprintf("exit A placement failed: %v", err))
		return false
	}
	c.recordOrderEvent(history.EventOrderPlaced, pos, pos.VenueA, pos.SymbolA, exitSideA, pos.QtyA, exitA, "", nil)

	if err := c.gate.ValidateExecution(exitA, pos.QtyA); err != nil {
		// Cancelling and reversing the exit re-opens leg A as it was.
		c.cleanupUnconfirmed(ctx, pos, clientA, pos.SymbolA, exitA, exitSideA, pos.QtyA, "exit A unconfirmed")
		c.failPosition(pos, fmt.Sprintf("exit A validation failed: %v", err))
		return false
	}

	// Exit leg B.
	exitB, err := clientB.PlaceMarketOrder(ctx, pos.SymbolB, exitSideB, pos.QtyB)
	if err != nil {
		c.recordOrderEvent(history.EventOrderFailed, pos, pos.VenueB, pos.SymbolB, exitSideB, pos.QtyB, types.Order{}, err.Error(), nil)
		// Exit A already filled: re-open leg A in its original direction
		// to restore the hedge.
		c.hedge(ctx, pos, clientA, pos.SymbolA, exitSideA, pos.QtyA, exitA.ID, "exit B placement failed")
		c.failPosition(pos, fmt.Sprintf("exit B placement failed: %v", err))
		return false
	}
	c.recordOrderEvent(history.EventOrderPlaced, pos, pos.VenueB, pos.SymbolB, exitSideB, pos.QtyB, exitB, "", nil)

	if err := c.gate.ValidateExecution(exitB, pos.QtyB); err != nil {
		c.cleanupUnconfirmed(ctx, pos, clientB, pos.SymbolB, exitB, exitSideB, pos.QtyB, "exit B unconfirmed")
		c.hedge(ctx, pos, clientA, pos.SymbolA, exitSideA, pos.QtyA, exitA.ID, "exit B unconfirmed")
		c.failPosition(pos, fmt.Sprintf("exit B validation failed: %v", err))
		return false
	}

	pos.MarkClosed(fillPrice(exitA, pos.EntryPriceA), fillPrice(exitB, pos.EntryPriceB))
	c.removeActive(pos.ID)
	c.store.Record(history.Event{
		Type:       history.EventPositionClosed,
		PositionID: pos.ID,
		Scenario:   pos.Scenario,
		ExchangeA:  pos.VenueA,
		ExchangeB:  pos.VenueB,
		SymbolA:    pos.SymbolA,
		SymbolB:    pos.SymbolB,
		Quantity:   pos.QtyA,
		PnL:        pos.PnL,
		Status:     string(pos.Status),
		Metadata:   map[string]any{"exit_spread": pos.ExitSpread},
	})
	c.logger.Info("position closed",
		"position", pos.ID,
		"pnl", pos.PnL,
		"exit_spread", pos.ExitSpread)
	return true
}

// runRiskGate performs the pre-trade checks. No orders exist yet, so a
// rejection needs no compensation, only recording.
func (c *Coordinator) runRiskGate(ctx context.Context, pos *types.Position, clientA, clientB exchange.VenueClient, priceHintA, priceHintB float64) bool {
	if err := c.gate.CheckPositionLimit(); err != nil {
		c.failPosition(pos, err.Error())
		return false
	}

	c.gate.SetLeverageIfNeeded(ctx, clientA, pos.SymbolA)
	c.gate.SetLeverageIfNeeded(ctx, clientB, pos.SymbolB)

	for _, leg := range []struct {
		client exchange.VenueClient
		qty    float64
		hint   float64
	}{
		{clientA, pos.QtyA, priceHintA},
		{clientB, pos.QtyB, priceHintB},
	} {
		if err := c.gate.CheckBalance(ctx, leg.client, leg.qty, leg.hint); err != nil {
			var ibe *risk.InsufficientBalanceError
			if errors.As(err, &ibe) {
				c.store.Record(history.Event{
					Type:         history.EventInsufficientBalance,
					PositionID:   history.AlertPositionID,
					ErrorMessage: ibe.Error(),
					Metadata: map[string]any{
						"exchange":  ibe.Venue,
						"required":  ibe.Required,
						"available": ibe.Available,
						"shortfall": ibe.Shortfall(),
					},
				})
			}
			c.failPosition(pos, err.Error())
			return false
		}
	}
	return true
}

// cleanupUnconfirmed neutralizes an order whose execution could not be
// confirmed: best-effort cancel, then a reverse-side market order for the
// full requested quantity to flatten any partial fill.
func (c *Coordinator) cleanupUnconfirmed(ctx context.Context, pos *types.Position, client exchange.VenueClient, symbol string, order types.Order, side types.Side, qty float64, reason string) {
	cancelled, err := client.CancelOrder(ctx, order.ID, symbol)
	if err != nil {
		c.logger.Warn("cancel failed during cleanup",
			"position", pos.ID, "venue", client.Name(), "order", order.ID, "error", err)
	} else {
		c.recordOrderEvent(history.EventOrderCancelled, pos, client.Name(), symbol, side, qty, cancelled, "", map[string]any{
			"reason": reason,
		})
	}
	c.hedge(ctx, pos, client, symbol, side, qty, order.ID, reason)
}

// hedge flattens an executed leg with a reverse-side market order. Success
// is recorded as order_rollback; a failed hedge is recorded as order_failed
// and deliberately not retried.
func (c *Coordinator) hedge(ctx context.Context, pos *types.Position, client exchange.VenueClient, symbol string, originalSide types.Side, qty float64, originalOrderID, reason string) {
	side := originalSide.Opposite()
	rollback, err := client.PlaceMarketOrder(ctx, symbol, side, qty)
	if err != nil {
		c.recordOrderEvent(history.EventOrderFailed, pos, client.Name(), symbol, side, qty, types.Order{}, fmt.Sprintf("hedge failed: %v", err), map[string]any{
			"reason":            reason,
			"original_order_id": originalOrderID,
		})
		c.logger.Error("hedge order failed, manual intervention required",
			"position", pos.ID, "venue", client.Name(), "symbol", symbol, "error", err)
		return
	}
	c.recordOrderEvent(history.EventOrderRollback, pos, client.Name(), symbol, side, qty, rollback, "", map[string]any{
		"reason":            reason,
		"original_order_id": originalOrderID,
		"rollback_order_id": rollback.ID,
	})
}

// failPosition records position_error and moves the position to ERROR.
func (c *Coordinator) failPosition(pos *types.Position, message string) {
	pos.MarkError()
	c.removeActive(pos.ID)
	c.store.Record(history.Event{
		Type:         history.EventPositionError,
		PositionID:   pos.ID,
		Scenario:     pos.Scenario,
		ExchangeA:    pos.VenueA,
		ExchangeB:    pos.VenueB,
		SymbolA:      pos.SymbolA,
		SymbolB:      pos.SymbolB,
		Status:       string(pos.Status),
		ErrorMessage: message,
	})
	c.logger.Error("position failed", "position", pos.ID, "error", message)
}

// recordOrderEvent writes one single-venue order event.
func (c *Coordinator) recordOrderEvent(typ history.EventType, pos *types.Position, venue, symbol string, side types.Side, qty float64, order types.Order, errMsg string, extra map[string]any) {
	meta := map[string]any{"exchange": venue, "symbol": symbol}
	if order.ID != "" {
		meta["order_id"] = order.ID
	}
	for k, v := range extra {
		meta[k] = v
	}
	c.store.Record(history.Event{
		Type:         typ,
		PositionID:   pos.ID,
		Scenario:     pos.Scenario,
		ExchangeA:    venue,
		SymbolA:      symbol,
		OrderType:    "market",
		Side:         side,
		Quantity:     qty,
		Price:        order.AvgPrice,
		Status:       string(order.Status),
		ErrorMessage: errMsg,
		Metadata:     meta,
	})
}

func (c *Coordinator) legClients(pos *types.Position) (exchange.VenueClient, exchange.VenueClient, error) {
	clientA, ok := c.clients[pos.VenueA]
	if !ok {
		return nil, nil, fmt.Errorf("no client for venue %q", pos.VenueA)
	}
	clientB, ok := c.clients[pos.VenueB]
	if !ok {
		return nil, nil, fmt.Errorf("no client for venue %q", pos.VenueB)
	}
	return clientA, clientB, nil
}

// fillPrice prefers the venue's reported average fill price, falling back to
// the price hint when the venue reported none.
func fillPrice(order types.Order, hint float64) float64 {
	if order.AvgPrice > 0 {
		return order.AvgPrice
	}
	return hint
}
