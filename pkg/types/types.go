// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot: order sides and statuses,
// normalized venue responses, price observations, and spread calculations.
// It has no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"strings"
	"time"
)

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "buy"
	SELL Side = "sell"
)

// Opposite returns the reverse side. Used for compensating orders.
func (s Side) Opposite() Side {
	if strings.EqualFold(string(s), string(BUY)) {
		return SELL
	}
	return BUY
}

// PriceKind distinguishes the two scalar prices the engine consumes.
// The cache treats both identically; strategies care which one they read.
type PriceKind string

const (
	KindSpot PriceKind = "spot"
	KindMark PriceKind = "mark"
)

// OrderStatus is the normalized order state. Adapters map venue-specific
// strings here; the core never branches on raw strings.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusUnknown         OrderStatus = "unknown"
)

// ParseOrderStatus maps a venue-reported status string to an OrderStatus,
// case-insensitively. Venues that report "closed" for fully executed market
// orders map to StatusFilled. Anything unrecognized maps to StatusUnknown.
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new", "open", "live":
		return StatusNew
	case "partially_filled", "partial-fill", "partiallyfilled":
		return StatusPartiallyFilled
	case "filled", "closed", "full-fill":
		return StatusFilled
	case "cancelled", "canceled":
		return StatusCancelled
	case "rejected", "expired":
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// Order is the normalized response to a place/cancel call on any venue.
type Order struct {
	ID       string      // venue-assigned order id
	Symbol   string      // venue-native symbol
	Side     Side        // buy or sell
	Quantity float64     // requested quantity in base units
	Filled   float64     // executed quantity; 0 means unknown/none
	AvgPrice float64     // average fill price; 0 if the venue did not report one
	Status   OrderStatus // normalized status
	Raw      string      // venue status string as received, for the audit trail
}

// Balance is one asset's account balance on a venue.
type Balance struct {
	Asset string
	Free  float64
	Used  float64
}

// Total returns free + used.
func (b Balance) Total() float64 { return b.Free + b.Used }

// PriceUpdate is a single observation emitted by a venue price stream.
type PriceUpdate struct {
	Symbol      string
	Price       float64
	TimestampMS int64
}

// PricePoint is an immutable snapshot of the latest price for a
// (venue, symbol) pair, as held by the price cache.
type PricePoint struct {
	Price       float64
	Kind        PriceKind
	Venue       string
	Symbol      string
	TimestampMS int64
}

// Scenario identifies the arbitrage variant.
type Scenario string

const (
	ScenarioA Scenario = "a" // spot vs perpetual
	ScenarioB Scenario = "b" // perpetual vs perpetual
)

// SpreadCalculation is the derived result of comparing two venue prices.
// It is never stored; strategies consume it and throw it away.
type SpreadCalculation struct {
	Spread        float64 // signed fraction, e.g. 0.05 = 5%
	PremiumVenue  string
	DiscountVenue string
	PricePremium  float64
	PriceDiscount float64
}

// Timestamp helpers used by stream adapters.

// NowMS returns the current wall clock in milliseconds since the epoch.
func NowMS() int64 { return time.Now().UnixMilli() }
