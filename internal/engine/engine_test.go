package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"parcer/internal/config"
	"parcer/internal/exchange"
	"parcer/internal/exchange/exchangetest"
	"parcer/internal/history"
	"parcer/internal/market"
	"parcer/internal/orders"
	"parcer/internal/risk"
	"parcer/internal/strategy"
	"parcer/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(dataDir string) config.Config {
	return config.Config{
		Trading: config.TradingConfig{
			Leverage:       3,
			MaxPositions:   1,
			FixedOrderSize: 100,
			QuoteAsset:     "USDT",
			PerpMarkers:    []string{"PERP", "SWAP"},
		},
		Arbitrage: config.ArbitrageConfig{
			Enabled:        true,
			Scenario:       "a",
			ExchangeA:      "okx",
			ExchangeB:      "binance",
			Symbol:         "BTCUSDT",
			EntryThreshold: 0.04,
			ExitThreshold:  0.005,
		},
		History: config.HistoryConfig{DataDir: dataDir},
	}
}

func TestNewRejectsDisabledArbitrage(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.Arbitrage.Enabled = false

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected an error with arbitrage disabled")
	}
}

func TestNewRequiresEnabledLegExchanges(t *testing.T) {
	t.Parallel()

	// No exchanges enabled at all: the configured leg cannot be resolved.
	cfg := baseConfig(t.TempDir())
	_, err := New(cfg, testLogger())
	if err == nil {
		t.Fatal("expected an error without enabled exchanges")
	}
	if !strings.Contains(err.Error(), "exchange_a") {
		t.Errorf("error = %v, want a hint at the missing leg", err)
	}
}

// adoptRecorder stands in for a strategy during recovery tests.
type adoptRecorder struct {
	name string

	mu      sync.Mutex
	adopted []*types.Position
}

func (a *adoptRecorder) Name() string         { return a.name }
func (a *adoptRecorder) Tick(context.Context) {}
func (a *adoptRecorder) Adopt(pos *types.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adopted = append(a.adopted, pos)
}

func seedOpenPosition(t *testing.T, store *history.Store, id string, scenario types.Scenario) {
	t.Helper()
	store.Record(history.Event{
		Type: history.EventPositionCreated, PositionID: id,
		Scenario: scenario, ExchangeA: "okx", ExchangeB: "binance",
		SymbolA: "BTC-USDT-SWAP", SymbolB: "BTCUSDT", Quantity: 1,
	})
	store.Record(history.Event{
		Type: history.EventPositionOpened, PositionID: id,
		Status: string(types.PositionOpened), Price: 0.043,
		Metadata: map[string]any{
			"entry_price_a": 48000.0, "entry_price_b": 46000.0,
			"leg_a_order_id": "a", "leg_b_order_id": "b",
		},
	})
}

func TestRecoverPositionsAdoptsMatchingScenario(t *testing.T) {
	t.Parallel()
	logger := testLogger()

	store, err := history.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	seedOpenPosition(t, store, "pos-a", types.ScenarioA)
	seedOpenPosition(t, store, "pos-b", types.ScenarioB)

	clients := map[string]exchange.VenueClient{
		"okx":     exchangetest.NewFake("okx"),
		"binance": exchangetest.NewFake("binance"),
	}
	gate := risk.NewGate(config.TradingConfig{Leverage: 1, MaxPositions: 2, FixedOrderSize: 100}, store, logger)
	coord := orders.NewCoordinator(clients, gate, store, logger)
	strat := &adoptRecorder{name: "scenario-a"}

	if err := recoverPositions(store, coord, strat, logger); err != nil {
		t.Fatalf("recoverPositions: %v", err)
	}

	// Both positions are tracked, only the scenario-a one is managed.
	if n := len(coord.ActivePositions()); n != 2 {
		t.Errorf("tracked positions = %d, want 2", n)
	}
	if len(strat.adopted) != 1 || strat.adopted[0].ID != "pos-a" {
		t.Fatalf("adopted = %+v, want only pos-a", strat.adopted)
	}
	if strat.adopted[0].EntryPriceA != 48000 || strat.adopted[0].EntrySpread != 0.043 {
		t.Errorf("recovered entry = %v/%v, want 48000/0.043",
			strat.adopted[0].EntryPriceA, strat.adopted[0].EntrySpread)
	}
}

func TestEngineStartStop(t *testing.T) {
	t.Parallel()
	logger := testLogger()

	store, err := history.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}

	fakeA := exchangetest.NewFake("okx")
	fakeB := exchangetest.NewFake("binance")
	clients := map[string]exchange.VenueClient{"okx": fakeA, "binance": fakeB}

	cfg := baseConfig("")
	cache := market.NewPriceCache()
	streams := market.NewSupervisor(cache, logger)
	streams.Add(fakeA, "BTCUSDT", types.KindMark)
	streams.Add(fakeB, "BTCUSDT", types.KindSpot)

	gate := risk.NewGate(cfg.Trading, store, logger)
	coord := orders.NewCoordinator(clients, gate, store, logger)
	spread := market.NewSpreadEngine(cfg.Arbitrage.EntryThreshold, cfg.Arbitrage.ExitThreshold)
	strat := strategy.NewScenarioA(cfg.Arbitrage, cache, spread, coord, gate, logger)

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		clients: clients,
		store:   store,
		cache:   cache,
		streams: streams,
		coord:   coord,
		runner:  strategy.NewRunner(time.Millisecond, logger, strat),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	if !fakeA.Closed() || !fakeB.Closed() {
		t.Error("venue clients must be closed on Stop")
	}
}
