package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"parcer/internal/config"
	"parcer/internal/exchange/exchangetest"
	"parcer/pkg/types"
)

type fixedCounter struct {
	n   int
	err error
}

func (c fixedCounter) CountOpenPositions() (int, error) { return c.n, c.err }

func testGate(cfg config.TradingConfig, counter OpenPositionCounter) *Gate {
	return NewGate(cfg, counter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func defaultTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		Leverage:       3,
		MaxPositions:   2,
		FixedOrderSize: 100,
		QtyTolerance:   0.01,
		QuoteAsset:     "USDT",
		PerpMarkers:    []string{"PERP", "SWAP"},
	}
}

func TestCheckPositionLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		open    int
		max     int
		blocked bool
	}{
		{"below limit", 1, 2, false},
		{"at limit", 2, 2, true},
		{"above limit", 3, 2, true},
		{"zero blocks everything", 0, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultTradingConfig()
			cfg.MaxPositions = tt.max
			g := testGate(cfg, fixedCounter{n: tt.open})

			err := g.CheckPositionLimit()
			if tt.blocked {
				var mpe *MaxPositionsError
				if !errors.As(err, &mpe) {
					t.Fatalf("error = %v, want MaxPositionsError", err)
				}
				if !strings.Contains(err.Error(), "Maximum positions") {
					t.Errorf("message = %q, must mention Maximum positions", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckPositionLimitCounterError(t *testing.T) {
	t.Parallel()
	g := testGate(defaultTradingConfig(), fixedCounter{err: errors.New("db gone")})
	if err := g.CheckPositionLimit(); err == nil {
		t.Fatal("expected error when the counter fails")
	}
}

func TestIsPerpetual(t *testing.T) {
	t.Parallel()
	g := testGate(defaultTradingConfig(), fixedCounter{})

	tests := []struct {
		symbol string
		want   bool
	}{
		{"BTC-USDT-SWAP", true},
		{"BTCUSDTPERP", true},
		{"btc-usdt-swap", true},
		{"BTCUSDT", false},
		{"ETH-USDT", false},
	}
	for _, tt := range tests {
		if got := g.IsPerpetual(tt.symbol); got != tt.want {
			t.Errorf("IsPerpetual(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}

func TestSetLeverageIfNeeded(t *testing.T) {
	t.Parallel()
	g := testGate(defaultTradingConfig(), fixedCounter{})

	// Spot symbol: no venue call at all.
	fake := exchangetest.NewFake("binance")
	g.SetLeverageIfNeeded(context.Background(), fake, "BTCUSDT")
	if len(fake.CallsFor("leverage")) != 0 {
		t.Error("leverage must not be set on a spot symbol")
	}

	// Perpetual symbol: one call with the configured leverage.
	g.SetLeverageIfNeeded(context.Background(), fake, "BTC-USDT-SWAP")
	calls := fake.CallsFor("leverage")
	if len(calls) != 1 || calls[0].Leverage != 3 {
		t.Errorf("leverage calls = %+v, want one call with leverage 3", calls)
	}

	// Unsupported and failing venues are tolerated.
	fake.LeverageUnsupported = true
	g.SetLeverageIfNeeded(context.Background(), fake, "BTC-USDT-SWAP")
	fake.LeverageUnsupported = false
	fake.Fail["leverage"] = errors.New("api down")
	g.SetLeverageIfNeeded(context.Background(), fake, "BTC-USDT-SWAP")
}

func TestCheckBalance(t *testing.T) {
	t.Parallel()
	g := testGate(defaultTradingConfig(), fixedCounter{})

	fake := exchangetest.NewFake("okx")
	fake.SetBalance("USDT", 100)

	// required = 1.0 * 50000 / 3 = 16666.67 > 100.
	err := g.CheckBalance(context.Background(), fake, 1.0, 50000)
	var ibe *InsufficientBalanceError
	if !errors.As(err, &ibe) {
		t.Fatalf("error = %v, want InsufficientBalanceError", err)
	}
	if math.Abs(ibe.Required-50000.0/3) > 0.01 {
		t.Errorf("required = %v, want about 16666.67", ibe.Required)
	}
	if ibe.Available != 100 {
		t.Errorf("available = %v, want 100", ibe.Available)
	}
	if math.Abs(ibe.Shortfall()-(ibe.Required-100)) > 1e-9 {
		t.Errorf("shortfall = %v", ibe.Shortfall())
	}

	// Enough balance passes.
	fake.SetBalance("USDT", 20000)
	if err := g.CheckBalance(context.Background(), fake, 1.0, 50000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// No price hint: check skipped.
	fake.SetBalance("USDT", 0)
	if err := g.CheckBalance(context.Background(), fake, 1.0, 0); err != nil {
		t.Errorf("zero price hint must skip the check, got %v", err)
	}

	// Venue failure propagates.
	fake.Fail["balance"] = errors.New("timeout")
	if err := g.CheckBalance(context.Background(), fake, 1.0, 50000); err == nil {
		t.Error("expected error when balance fetch fails")
	}
}

func TestOrderQuantity(t *testing.T) {
	t.Parallel()
	g := testGate(defaultTradingConfig(), fixedCounter{})

	if got := g.OrderQuantity(50000); got != 100.0/50000 {
		t.Errorf("OrderQuantity(50000) = %v, want 0.002", got)
	}
	if got := g.OrderQuantity(0); got != fallbackOrderQty {
		t.Errorf("OrderQuantity(0) = %v, want fallback", got)
	}

	// trading.default_order_qty overrides the fallback when no price is known.
	cfg := defaultTradingConfig()
	cfg.DefaultOrderQty = 0.05
	g = testGate(cfg, fixedCounter{})
	if got := g.OrderQuantity(0); got != 0.05 {
		t.Errorf("OrderQuantity(0) = %v, want configured 0.05", got)
	}
	if got := g.OrderQuantity(50000); got != 100.0/50000 {
		t.Errorf("OrderQuantity(50000) = %v, price hint must still win", got)
	}
}

func TestValidateExecution(t *testing.T) {
	t.Parallel()
	g := testGate(defaultTradingConfig(), fixedCounter{})

	tests := []struct {
		name      string
		order     types.Order
		requested float64
		ok        bool
	}{
		{"filled exact", types.Order{ID: "1", Status: types.StatusFilled, Filled: 1}, 1, true},
		{"filled within tolerance", types.Order{ID: "2", Status: types.StatusFilled, Filled: 0.995}, 1, true},
		{"filled unknown quantity", types.Order{ID: "3", Status: types.StatusFilled, Filled: 0}, 1, true},
		{"quantity off", types.Order{ID: "4", Status: types.StatusFilled, Filled: 0.9}, 1, false},
		{"status new", types.Order{ID: "5", Status: types.StatusNew, Filled: 1}, 1, false},
		{"status cancelled", types.Order{ID: "6", Status: types.StatusCancelled}, 1, false},
		{"status unknown", types.Order{ID: "7", Status: types.StatusUnknown}, 1, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := g.ValidateExecution(tt.order, tt.requested)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok {
				var ede *ExecutionDiscrepancyError
				if !errors.As(err, &ede) {
					t.Errorf("error = %v, want ExecutionDiscrepancyError", err)
				}
			}
		})
	}
}
