package market

import (
	"math"
	"testing"

	"parcer/pkg/types"
)

func point(venue string, price float64, kind types.PriceKind) types.PricePoint {
	return types.PricePoint{Venue: venue, Symbol: "BTCUSDT", Price: price, Kind: kind}
}

func TestScenarioASpread(t *testing.T) {
	t.Parallel()
	e := NewSpreadEngine(0.001, 0.0002)

	tests := []struct {
		name       string
		mark, spot float64
		want       float64
		premium    string
	}{
		{"perp rich", 48000, 46000, (48000.0 - 46000.0) / 46000.0, "okx"},
		{"perp cheap", 46000, 48000, (46000.0 - 48000.0) / 48000.0, "binance"},
		// The perpetual is premium only on a strictly positive spread.
		{"flat", 46000, 46000, 0, "binance"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calc := e.ScenarioA(point("okx", tt.mark, types.KindMark), point("binance", tt.spot, types.KindSpot))
			if math.Abs(calc.Spread-tt.want) > 1e-12 {
				t.Errorf("spread = %v, want %v", calc.Spread, tt.want)
			}
			if calc.PremiumVenue != tt.premium {
				t.Errorf("premium venue = %q, want %q", calc.PremiumVenue, tt.premium)
			}
		})
	}
}

func TestScenarioAZeroSpot(t *testing.T) {
	t.Parallel()
	e := NewSpreadEngine(0.001, 0.0002)

	calc := e.ScenarioA(point("okx", 48000, types.KindMark), point("binance", 0, types.KindSpot))
	if calc.Spread != 0 {
		t.Errorf("spread = %v, want 0 on zero denominator", calc.Spread)
	}
}

func TestScenarioBSpread(t *testing.T) {
	t.Parallel()
	e := NewSpreadEngine(0.001, 0.0002)

	calc := e.ScenarioB(point("binance", 46000, types.KindMark), point("okx", 48000, types.KindMark))
	if calc.Spread < 0 {
		t.Errorf("scenario b spread must be non-negative, got %v", calc.Spread)
	}
	if calc.DiscountVenue != "binance" || calc.PremiumVenue != "okx" {
		t.Errorf("venues = %s/%s, want binance discount, okx premium", calc.DiscountVenue, calc.PremiumVenue)
	}

	// Order of arguments must not matter.
	flipped := e.ScenarioB(point("okx", 48000, types.KindMark), point("binance", 46000, types.KindMark))
	if flipped.Spread != calc.Spread || flipped.DiscountVenue != calc.DiscountVenue {
		t.Errorf("flipped = %+v, want %+v", flipped, calc)
	}

	if zero := e.ScenarioB(point("binance", 0, types.KindMark), point("okx", 48000, types.KindMark)); zero.Spread != 0 {
		t.Errorf("spread = %v, want 0 on zero denominator", zero.Spread)
	}
}

func TestEntryExitSignals(t *testing.T) {
	t.Parallel()
	e := NewSpreadEngine(0.001, 0.0002)

	tests := []struct {
		spread float64
		entry  bool
		exit   bool
	}{
		{0.005, true, false},
		{-0.005, true, false},
		{0.001, true, false},
		{0.0005, false, false},
		{0.0002, false, true},
		{0.0001, false, true},
		{0, false, true},
	}
	for _, tt := range tests {
		if got := e.EntrySignal(types.SpreadCalculation{Spread: tt.spread}); got != tt.entry {
			t.Errorf("EntrySignal(%v) = %v, want %v", tt.spread, got, tt.entry)
		}
		if got := e.ExitSignal(tt.spread); got != tt.exit {
			t.Errorf("ExitSignal(%v) = %v, want %v", tt.spread, got, tt.exit)
		}
	}
}
