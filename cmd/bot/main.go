// Parcer — a cross-venue arbitrage bot for cryptocurrency exchanges.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires venue clients → streams → strategy → orders
//	strategy/scenario_*  — entry/exit evaluators: spot-vs-perp (a) and perp-vs-perp (b)
//	market/cache.go      — latest price per (venue, symbol, kind), fed by the stream supervisor
//	market/spread.go     — relative spread math and entry/exit signals
//	orders/coordinator   — two-leg execution with cancel-and-hedge compensation on failure
//	risk/gate.go         — position limit, balance, leverage, and fill validation checks
//	history/store.go     — append-only event log: CSV archive plus a SQLite query index
//	exchange/            — venue adapters (binance, okx) behind one VenueClient interface
//
// How it makes money:
//
//	The bot watches the price of the same instrument on two venues. When the
//	prices diverge beyond a threshold it buys the cheap leg and sells the
//	expensive one, then unwinds both legs once the spread converges, keeping
//	the difference. Position sizing is a fixed quote notional per leg.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"parcer/internal/config"
	"parcer/internal/engine"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("config loaded", "env", cfg.Env, "config", cfg.Redacted())

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

// newLogger builds the process logger. PARCER_LOG_LEVEL overrides the
// configured level without touching the config file.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := cfg.Level
	if env := os.Getenv(config.EnvPrefix + "LOG_LEVEL"); env != "" {
		level = env
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
