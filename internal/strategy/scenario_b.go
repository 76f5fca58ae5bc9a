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

// ScenarioB arbitrages the mark prices of two perpetual venues. The leg
// assignment is decided at entry: whichever venue quotes cheaper carries the
// BUY leg.
type ScenarioB struct {
	cfg    config.ArbitrageConfig
	cache  *market.PriceCache
	spread *market.SpreadEngine
	coord  *orders.Coordinator
	gate   *risk.Gate
	logger *slog.Logger

	// configured symbol per venue
	venueSymbols map[string]string

	mu       sync.Mutex
	position *types.Position
}

// NewScenarioB creates the perp-vs-perp strategy.
func NewScenarioB(cfg config.ArbitrageConfig, cache *market.PriceCache, spread *market.SpreadEngine, coord *orders.Coordinator, gate *risk.Gate, logger *slog.Logger) *ScenarioB {
	symbolA, symbolB := cfg.LegSymbols()
	return &ScenarioB{
		cfg:    cfg,
		cache:  cache,
		spread: spread,
		coord:  coord,
		gate:   gate,
		logger: logger.With("component", "strategy", "scenario", "b"),
		venueSymbols: map[string]string{
			cfg.ExchangeA: symbolA,
			cfg.ExchangeB: symbolB,
		},
	}
}

func (s *ScenarioB) Name() string { return "scenario-b" }

// Adopt hands the strategy a recovered open position.
func (s *ScenarioB) Adopt(pos *types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
}

// Position returns the currently held position, if any.
func (s *ScenarioB) Position() *types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Tick evaluates entry when flat, exit when holding.
func (s *ScenarioB) Tick(ctx context.Context) {
	s.mu.Lock()
	pos := s.position
	s.mu.Unlock()

	if pos == nil {
		s.checkEntry(ctx)
		return
	}
	s.checkExit(ctx, pos)
}

func (s *ScenarioB) checkEntry(ctx context.Context) {
	symbolA := s.venueSymbols[s.cfg.ExchangeA]
	symbolB := s.venueSymbols[s.cfg.ExchangeB]

	pxA, okA := s.cache.GetPrice(s.cfg.ExchangeA, symbolA, types.KindMark)
	pxB, okB := s.cache.GetPrice(s.cfg.ExchangeB, symbolB, types.KindMark)
	if !okA || !okB {
		return
	}

	calc := s.spread.ScenarioB(pxA, pxB)
	if !s.spread.EntrySignal(calc) {
		return
	}
	if !symbols.Match(symbolA, symbolB) {
		s.logger.Warn("leg symbols differ, proceeding anyway",
			"symbol_a", symbolA, "symbol_b", symbolB)
	}

	// The discount venue carries the BUY leg.
	buyVenue, sellVenue := calc.DiscountVenue, calc.PremiumVenue
	buySymbol := s.venueSymbols[buyVenue]
	sellSymbol := s.venueSymbols[sellVenue]

	qty := s.gate.OrderQuantity(calc.PriceDiscount)
	pos := s.coord.CreatePosition(types.ScenarioB, buyVenue, buySymbol, sellVenue, sellSymbol, qty)

	s.logger.Info("entry signal",
		"spread", calc.Spread,
		"cheap_venue", buyVenue,
		"cheap_price", calc.PriceDiscount,
		"rich_venue", sellVenue,
		"rich_price", calc.PricePremium,
		"qty", qty)

	if s.coord.OpenPosition(ctx, pos, calc.PriceDiscount, calc.PricePremium) {
		s.mu.Lock()
		s.position = pos
		s.mu.Unlock()
	}
}

func (s *ScenarioB) checkExit(ctx context.Context, pos *types.Position) {
	pxA, okA := s.cache.GetPrice(pos.VenueA, s.venueSymbols[pos.VenueA], types.KindMark)
	pxB, okB := s.cache.GetPrice(pos.VenueB, s.venueSymbols[pos.VenueB], types.KindMark)
	if !okA || !okB {
		return
	}

	spreadNow := types.PositionSpread(types.ScenarioB, pxA.Price, pxB.Price)
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
