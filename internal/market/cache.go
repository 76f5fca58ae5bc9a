// Package market holds the live price state and the spread math on top of it.
//
// PriceCache mirrors the latest price per (venue, symbol, kind) triple. It is
// written by the stream supervisor and read by the strategy loop; lookups
// return immutable snapshots, so readers never see a torn update. SpreadEngine
// derives entry and exit signals from pairs of cached prices, and Supervisor
// keeps the venue streams that feed the cache alive.
package market

import (
	"strings"
	"sync"
	"time"

	"parcer/pkg/types"
)

// PriceCache is the concurrent latest-price map. The zero value is not
// usable; construct with NewPriceCache.
type PriceCache struct {
	prices sync.Map // key string -> types.PricePoint
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{}
}

func cacheKey(venue, symbol string, kind types.PriceKind) string {
	return strings.ToLower(venue) + "|" + strings.ToUpper(symbol) + "|" + string(kind)
}

// UpdatePrice stores the latest observation for a (venue, symbol, kind)
// triple, replacing any previous one.
func (c *PriceCache) UpdatePrice(venue, symbol string, kind types.PriceKind, price float64, timestampMS int64) {
	c.prices.Store(cacheKey(venue, symbol, kind), types.PricePoint{
		Price:       price,
		Kind:        kind,
		Venue:       venue,
		Symbol:      symbol,
		TimestampMS: timestampMS,
	})
}

// GetPrice returns the latest snapshot for a triple, or false when no
// observation has arrived yet.
func (c *PriceCache) GetPrice(venue, symbol string, kind types.PriceKind) (types.PricePoint, bool) {
	v, ok := c.prices.Load(cacheKey(venue, symbol, kind))
	if !ok {
		return types.PricePoint{}, false
	}
	return v.(types.PricePoint), true
}

// Age returns how old a cached observation is; ok is false when the triple
// has never been observed.
func (c *PriceCache) Age(venue, symbol string, kind types.PriceKind) (time.Duration, bool) {
	p, ok := c.GetPrice(venue, symbol, kind)
	if !ok {
		return 0, false
	}
	return time.Since(time.UnixMilli(p.TimestampMS)), true
}
