package exchange

import (
	"context"
	"log/slog"
	"time"

	"parcer/pkg/types"
)

// defaultPollInterval is the REST fallback cadence for venues without a
// push stream for the requested price kind.
const defaultPollInterval = time.Second

// fetchPriceFunc fetches one price observation over REST.
type fetchPriceFunc func(ctx context.Context) (float64, error)

// pollPrices runs a REST polling loop in a goroutine and returns the channel
// it feeds. Fetch errors are logged and retried on the next tick; the channel
// is closed when ctx is cancelled.
func pollPrices(ctx context.Context, symbol string, interval time.Duration, fetch fetchPriceFunc, logger *slog.Logger) <-chan types.PriceUpdate {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ch := make(chan types.PriceUpdate, 16)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			price, err := fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("price poll failed", "symbol", symbol, "error", err)
			} else {
				update := types.PriceUpdate{Symbol: symbol, Price: price, TimestampMS: types.NowMS()}
				select {
				case ch <- update:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}
