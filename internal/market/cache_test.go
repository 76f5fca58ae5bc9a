package market

import (
	"sync"
	"testing"
	"time"

	"parcer/pkg/types"
)

func TestPriceCacheUpdateAndGet(t *testing.T) {
	t.Parallel()
	c := NewPriceCache()

	if _, ok := c.GetPrice("binance", "BTCUSDT", types.KindMark); ok {
		t.Fatal("empty cache should miss")
	}

	c.UpdatePrice("binance", "BTCUSDT", types.KindMark, 48000, 1000)
	p, ok := c.GetPrice("binance", "BTCUSDT", types.KindMark)
	if !ok {
		t.Fatal("expected hit after update")
	}
	if p.Price != 48000 || p.Venue != "binance" || p.Kind != types.KindMark {
		t.Errorf("point = %+v", p)
	}

	// Same venue and symbol, different kind, is a separate entry.
	c.UpdatePrice("binance", "BTCUSDT", types.KindSpot, 47990, 1001)
	mark, _ := c.GetPrice("binance", "BTCUSDT", types.KindMark)
	spot, _ := c.GetPrice("binance", "BTCUSDT", types.KindSpot)
	if mark.Price == spot.Price {
		t.Error("kinds must not collide")
	}

	// Newer observation replaces the old one.
	c.UpdatePrice("binance", "BTCUSDT", types.KindMark, 48100, 2000)
	p, _ = c.GetPrice("binance", "BTCUSDT", types.KindMark)
	if p.Price != 48100 || p.TimestampMS != 2000 {
		t.Errorf("point after replace = %+v", p)
	}
}

func TestPriceCacheKeyNormalization(t *testing.T) {
	t.Parallel()
	c := NewPriceCache()

	c.UpdatePrice("Binance", "btcusdt", types.KindSpot, 100, 1)
	if _, ok := c.GetPrice("binance", "BTCUSDT", types.KindSpot); !ok {
		t.Error("lookup should be case-insensitive on venue and symbol")
	}
}

func TestPriceCacheConcurrent(t *testing.T) {
	t.Parallel()
	c := NewPriceCache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.UpdatePrice("okx", "ETHUSDT", types.KindMark, float64(n*100+j), int64(j))
				c.GetPrice("okx", "ETHUSDT", types.KindMark)
			}
		}(i)
	}
	wg.Wait()

	if _, ok := c.GetPrice("okx", "ETHUSDT", types.KindMark); !ok {
		t.Error("expected a final value")
	}
}

func TestPriceCacheAge(t *testing.T) {
	t.Parallel()
	c := NewPriceCache()

	if _, ok := c.Age("binance", "BTCUSDT", types.KindSpot); ok {
		t.Error("Age on a miss should report not ok")
	}

	c.UpdatePrice("binance", "BTCUSDT", types.KindSpot, 100, time.Now().Add(-time.Minute).UnixMilli())
	age, ok := c.Age("binance", "BTCUSDT", types.KindSpot)
	if !ok {
		t.Fatal("expected hit")
	}
	if age < 50*time.Second || age > 2*time.Minute {
		t.Errorf("age = %v, want about a minute", age)
	}
}
