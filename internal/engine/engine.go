// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. Venue adapters are built from config (one per enabled exchange).
//  2. The stream supervisor keeps one price feed per leg alive and pushes
//     every tick into the shared price cache.
//  3. The strategy loop evaluates the configured scenario against the cache
//     and delegates entries and exits to the order coordinator.
//  4. The history store records every event to CSV and SQLite; on startup
//     open positions are folded back out of it and handed to the strategy.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"parcer/internal/config"
	"parcer/internal/exchange"
	"parcer/internal/history"
	"parcer/internal/market"
	"parcer/internal/orders"
	"parcer/internal/risk"
	"parcer/internal/strategy"
	"parcer/pkg/types"
)

// Engine owns the lifecycle of every component and goroutine.
type Engine struct {
	cfg     config.Config
	clients map[string]exchange.VenueClient
	store   *history.Store
	cache   *market.PriceCache
	streams *market.Supervisor
	coord   *orders.Coordinator
	runner  *strategy.Runner
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components, including crash recovery of
// open positions from the history store.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if !cfg.Arbitrage.Enabled {
		return nil, fmt.Errorf("arbitrage is disabled in config")
	}

	opts := exchange.Options{
		ProxyURL:    cfg.Proxy.ProxyURL(),
		QuoteAssets: cfg.Trading.QuoteAssets,
	}
	clients := make(map[string]exchange.VenueClient)
	for name, exCfg := range cfg.Exchanges {
		if !exCfg.Enabled {
			continue
		}
		client, err := exchange.New(name, exCfg, opts, logger)
		if err != nil {
			closeClients(clients)
			return nil, fmt.Errorf("exchange %s: %w", name, err)
		}
		clients[client.Name()] = client
	}

	clientA, ok := clients[cfg.Arbitrage.ExchangeA]
	if !ok {
		closeClients(clients)
		return nil, fmt.Errorf("arbitrage.exchange_a %q is not an enabled exchange", cfg.Arbitrage.ExchangeA)
	}
	clientB, ok := clients[cfg.Arbitrage.ExchangeB]
	if !ok {
		closeClients(clients)
		return nil, fmt.Errorf("arbitrage.exchange_b %q is not an enabled exchange", cfg.Arbitrage.ExchangeB)
	}

	store, err := history.Open(cfg.History.DataDir, logger)
	if err != nil {
		closeClients(clients)
		return nil, fmt.Errorf("open history store: %w", err)
	}

	gate := risk.NewGate(cfg.Trading, store, logger)
	coord := orders.NewCoordinator(clients, gate, store, logger)
	cache := market.NewPriceCache()
	spread := market.NewSpreadEngine(cfg.Arbitrage.EntryThreshold, cfg.Arbitrage.ExitThreshold)

	symbolA, symbolB := cfg.Arbitrage.LegSymbols()
	streams := market.NewSupervisor(cache, logger)

	var strat strategy.Strategy
	switch cfg.Arbitrage.Scenario {
	case "b":
		strat = strategy.NewScenarioB(cfg.Arbitrage, cache, spread, coord, gate, logger)
		streams.Add(clientA, symbolA, types.KindMark)
		streams.Add(clientB, symbolB, types.KindMark)
	default:
		strat = strategy.NewScenarioA(cfg.Arbitrage, cache, spread, coord, gate, logger)
		streams.Add(clientA, symbolA, types.KindMark)
		streams.Add(clientB, symbolB, types.KindSpot)
	}

	if err := recoverPositions(store, coord, strat, logger); err != nil {
		store.Close()
		closeClients(clients)
		return nil, err
	}

	runner := strategy.NewRunner(cfg.Arbitrage.TickInterval, logger, strat)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		clients: clients,
		store:   store,
		cache:   cache,
		streams: streams,
		coord:   coord,
		runner:  runner,
		logger:  logger.With("component", "engine"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// recoverPositions folds open positions out of the event log and hands them
// back to the coordinator and the strategy so a restart resumes exit
// monitoring instead of double-entering.
func recoverPositions(store *history.Store, coord *orders.Coordinator, strat strategy.Strategy, logger *slog.Logger) error {
	open, err := store.ListPositions(types.PositionOpened)
	if err != nil {
		return fmt.Errorf("recover positions: %w", err)
	}
	for _, pos := range open {
		coord.Adopt(pos)
		if pos.Scenario == scenarioOf(strat) {
			strat.Adopt(pos)
			logger.Info("recovered open position",
				"position", pos.ID,
				"scenario", pos.Scenario,
				"venue_a", pos.VenueA,
				"venue_b", pos.VenueB,
				"entry_spread", pos.EntrySpread)
		} else {
			logger.Warn("open position belongs to a different scenario, tracked but not managed",
				"position", pos.ID, "scenario", pos.Scenario)
		}
	}
	return nil
}

func scenarioOf(strat strategy.Strategy) types.Scenario {
	if strat.Name() == "scenario-b" {
		return types.ScenarioB
	}
	return types.ScenarioA
}

// Start launches the stream supervisor and the strategy loop.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.streams.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("stream supervisor error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runner.Run(e.ctx)
	}()

	e.logger.Info("engine started",
		"scenario", e.cfg.Arbitrage.Scenario,
		"exchange_a", e.cfg.Arbitrage.ExchangeA,
		"exchange_b", e.cfg.Arbitrage.ExchangeB,
		"symbol", e.cfg.Arbitrage.Symbol,
		"entry_threshold", e.cfg.Arbitrage.EntryThreshold,
		"exit_threshold", e.cfg.Arbitrage.ExitThreshold)
	return nil
}

// Stop cancels all goroutines, waits for them, and closes venue clients and
// the history store. Open positions survive in the event log and are adopted
// again on the next start.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	for _, pos := range e.coord.ActivePositions() {
		e.logger.Warn("leaving position open across restart", "position", pos.ID, "status", pos.Status)
	}

	closeClients(e.clients)
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close history store", "error", err)
	}

	e.logger.Info("shutdown complete")
}

func closeClients(clients map[string]exchange.VenueClient) {
	for _, c := range clients {
		c.Close()
	}
}
