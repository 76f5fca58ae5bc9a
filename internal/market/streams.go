package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"parcer/internal/exchange"
	"parcer/pkg/types"
)

// Subscription names one price feed the supervisor must keep alive.
type Subscription struct {
	Client exchange.VenueClient
	Symbol string
	Kind   types.PriceKind
}

// Supervisor runs one goroutine per subscription, drains each venue stream
// into the cache, and re-subscribes with backoff when a stream dies. The
// strategy loop never blocks on a venue: it only reads the cache.
type Supervisor struct {
	cache  *PriceCache
	subs   []Subscription
	logger *slog.Logger
}

// NewSupervisor creates a supervisor feeding cache.
func NewSupervisor(cache *PriceCache, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cache:  cache,
		logger: logger.With("component", "streams"),
	}
}

// Add registers a subscription. Must be called before Run.
func (s *Supervisor) Add(client exchange.VenueClient, symbol string, kind types.PriceKind) {
	s.subs = append(s.subs, Subscription{Client: client, Symbol: symbol, Kind: kind})
}

// Run blocks until ctx is cancelled, supervising every registered feed.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range s.subs {
		sub := sub
		g.Go(func() error {
			s.supervise(ctx, sub)
			return nil
		})
	}
	return g.Wait()
}

// supervise subscribes, pumps updates into the cache, and retries on stream
// failure until ctx is cancelled. The backoff resets once a stream delivers.
func (s *Supervisor) supervise(ctx context.Context, sub Subscription) {
	venue := sub.Client.Name()
	logger := s.logger.With("venue", venue, "symbol", sub.Symbol, "kind", sub.Kind)

	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		ch, err := s.subscribe(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.Duration()
			logger.Warn("stream subscribe failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		delivered := false
		for update := range ch {
			s.cache.UpdatePrice(venue, sub.Symbol, sub.Kind, update.Price, update.TimestampMS)
			if !delivered {
				delivered = true
				retry.Reset()
				logger.Info("stream connected")
			}
		}

		if ctx.Err() != nil {
			return
		}
		wait := retry.Duration()
		logger.Warn("stream closed, reconnecting", "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Supervisor) subscribe(ctx context.Context, sub Subscription) (<-chan types.PriceUpdate, error) {
	if sub.Kind == types.KindMark {
		return sub.Client.StreamMarkPrice(ctx, sub.Symbol)
	}
	return sub.Client.StreamSpotPrice(ctx, sub.Symbol)
}
