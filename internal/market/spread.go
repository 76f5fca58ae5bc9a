package market

import (
	"math"

	"parcer/pkg/types"
)

// SpreadEngine turns pairs of cached prices into signed spreads and
// entry/exit signals. It holds the two thresholds and nothing else; all
// state lives in the cache and the position book.
type SpreadEngine struct {
	entryThreshold float64 // fraction, e.g. 0.001 = 0.1%
	exitThreshold  float64
}

// NewSpreadEngine creates an engine with the configured thresholds.
func NewSpreadEngine(entry, exit float64) *SpreadEngine {
	return &SpreadEngine{entryThreshold: entry, exitThreshold: exit}
}

// ScenarioA computes the perpetual premium over spot: (mark - spot) / spot.
// Positive means the perpetual trades rich. A zero spot price yields a zero
// spread so a venue glitch never produces an infinite signal.
func (e *SpreadEngine) ScenarioA(mark, spot types.PricePoint) types.SpreadCalculation {
	if spot.Price == 0 {
		return types.SpreadCalculation{}
	}
	spread := (mark.Price - spot.Price) / spot.Price

	calc := types.SpreadCalculation{Spread: spread}
	if spread > 0 {
		calc.PremiumVenue, calc.PricePremium = mark.Venue, mark.Price
		calc.DiscountVenue, calc.PriceDiscount = spot.Venue, spot.Price
	} else {
		calc.PremiumVenue, calc.PricePremium = spot.Venue, spot.Price
		calc.DiscountVenue, calc.PriceDiscount = mark.Venue, mark.Price
	}
	return calc
}

// ScenarioB compares two perpetual marks and always reports a non-negative
// spread against the cheaper venue: (expensive - cheap) / cheap. The venue
// roles in the result tell the strategy which side to buy.
func (e *SpreadEngine) ScenarioB(a, b types.PricePoint) types.SpreadCalculation {
	cheap, expensive := a, b
	if b.Price < a.Price {
		cheap, expensive = b, a
	}
	if cheap.Price == 0 {
		return types.SpreadCalculation{}
	}
	return types.SpreadCalculation{
		Spread:        (expensive.Price - cheap.Price) / cheap.Price,
		PremiumVenue:  expensive.Venue,
		DiscountVenue: cheap.Venue,
		PricePremium:  expensive.Price,
		PriceDiscount: cheap.Price,
	}
}

// EntrySignal reports whether the spread magnitude clears the entry
// threshold.
func (e *SpreadEngine) EntrySignal(calc types.SpreadCalculation) bool {
	return math.Abs(calc.Spread) >= e.entryThreshold
}

// ExitSignal reports whether the spread has converged inside the exit
// threshold.
func (e *SpreadEngine) ExitSignal(spread float64) bool {
	return math.Abs(spread) <= e.exitThreshold
}
