package market

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"parcer/internal/exchange/exchangetest"
	"parcer/pkg/types"
)

func TestSupervisorFeedsCache(t *testing.T) {
	t.Parallel()

	fake := exchangetest.NewFake("binance")
	fake.StreamUpdates = []types.PriceUpdate{
		{Symbol: "BTCUSDT", Price: 46000, TimestampMS: 1},
		{Symbol: "BTCUSDT", Price: 46100, TimestampMS: 2},
	}

	cache := NewPriceCache()
	sup := NewSupervisor(cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sup.Add(fake, "BTCUSDT", types.KindMark)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if p, ok := cache.GetPrice("binance", "BTCUSDT", types.KindMark); ok && p.Price == 46100 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cache never received the final update")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
}

func TestSupervisorRetriesFailedSubscribe(t *testing.T) {
	t.Parallel()

	fake := exchangetest.NewFake("okx")
	fake.Fail["stream"] = context.DeadlineExceeded

	cache := NewPriceCache()
	sup := NewSupervisor(cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sup.Add(fake, "ETHUSDT", types.KindSpot)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}

	if len(fake.CallsFor("stream")) == 0 {
		t.Error("expected at least one subscribe attempt")
	}
}
