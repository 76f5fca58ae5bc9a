// Package strategy implements the two arbitrage variants.
//
// Scenario A trades a perpetual against spot on another venue: when the
// perpetual's mark price diverges from spot beyond the entry threshold, it
// buys the perpetual leg and sells the spot leg, and unwinds when the spread
// converges inside the exit threshold. Scenario B trades two perpetuals
// against each other, buying whichever venue quotes cheaper at entry time.
//
// Both strategies are pure tick evaluators: every tick they read the price
// cache, decide entry or exit, and delegate all order work to the
// coordinator. Each strategy instance holds at most one position at a time.
package strategy

import (
	"context"
	"log/slog"
	"sync"

	"parcer/internal/config"
	"parcer/internal/market"
	"parcer/internal/orders"
	"parcer/internal/risk"
	"parcer/pkg/symbols"
	"parcer/pkg/types"
)

// ScenarioA arbitrages a perpetual mark price on exchange_a against spot on
// exchange_b. Leg A is always the perpetual BUY, leg B the spot SELL.
type ScenarioA struct {
	cfg    config.ArbitrageConfig
	cache  *market.PriceCache
	spread *market.SpreadEngine
	coord  *orders.Coordinator
	gate   *risk.Gate
	logger *slog.Logger

	symbolA string
	symbolB string

	mu       sync.Mutex
	position *types.Position
}

// NewScenarioA creates the spot-vs-perp strategy.
func NewScenarioA(cfg config.ArbitrageConfig, cache *market.PriceCache, spread *market.SpreadEngine, coord *orders.Coordinator, gate *risk.Gate, logger *slog.Logger) *ScenarioA {
	symbolA, symbolB := cfg.LegSymbols()
	return &ScenarioA{
		cfg:     cfg,
		cache:   cache,
		spread:  spread,
		coord:   coord,
		gate:    gate,
		logger:  logger.With("component", "strategy", "scenario", "a"),
		symbolA: symbolA,
		symbolB: symbolB,
	}
}

func (s *ScenarioA) Name() string { return "scenario-a" }

// Adopt hands the strategy a recovered open position.
func (s *ScenarioA) Adopt(pos *types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
}

// Position returns the currently held position, if any.
func (s *ScenarioA) Position() *types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Tick evaluates entry when flat, exit when holding.
func (s *ScenarioA) Tick(ctx context.Context) {
	s.mu.Lock()
	pos := s.position
	s.mu.Unlock()

	if pos == nil {
		s.checkEntry(ctx)
		return
	}
	s.checkExit(ctx, pos)
}

func (s *ScenarioA) checkEntry(ctx context.Context) {
	mark, okA := s.cache.GetPrice(s.cfg.ExchangeA, s.symbolA, types.KindMark)
	spot, okB := s.cache.GetPrice(s.cfg.ExchangeB, s.symbolB, types.KindSpot)
	if !okA || !okB {
		return
	}

	calc := s.spread.ScenarioA(mark, spot)
	if !s.spread.EntrySignal(calc) {
		return
	}
	if !symbols.Match(s.symbolA, s.symbolB) {
		s.logger.Warn("leg symbols differ, proceeding anyway",
			"symbol_a", s.symbolA, "symbol_b", s.symbolB)
	}

	qty := s.gate.OrderQuantity(mark.Price)
	pos := s.coord.CreatePosition(types.ScenarioA, s.cfg.ExchangeA, s.symbolA, s.cfg.ExchangeB, s.symbolB, qty)

	s.logger.Info("entry signal",
		"spread", calc.Spread,
		"mark", mark.Price,
		"spot", spot.Price,
		"qty", qty)

	if s.coord.OpenPosition(ctx, pos, mark.Price, spot.Price) {
		s.mu.Lock()
		s.position = pos
		s.mu.Unlock()
	}
}

func (s *ScenarioA) checkExit(ctx context.Context, pos *types.Position) {
	mark, okA := s.cache.GetPrice(pos.VenueA, s.symbolA, types.KindMark)
	spot, okB := s.cache.GetPrice(pos.VenueB, s.symbolB, types.KindSpot)
	if !okA || !okB {
		return
	}

	spreadNow := types.PositionSpread(types.ScenarioA, mark.Price, spot.Price)
	if !s.spread.ExitSignal(spreadNow) {
		return
	}

	s.logger.Info("exit signal", "spread", spreadNow, "position", pos.ID)
	s.coord.ClosePosition(ctx, pos)
	if pos.IsTerminal() {
		s.mu.Lock()
		s.position = nil
		s.mu.Unlock()
	}
}
