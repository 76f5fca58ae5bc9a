// Package exchangetest provides a scripted VenueClient for tests.
//
// A Fake answers balance and order calls from configured state, records every
// call it receives, and lets tests inject failures per operation. Order
// responses can be scripted in sequence; when the script runs out, orders
// fill completely at the configured fill price.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"parcer/internal/exchange"
	"parcer/pkg/types"
)

// Call records one method invocation on the fake.
type Call struct {
	Op       string
	Symbol   string
	Side     types.Side
	Quantity float64
	OrderID  string
	Leverage float64
}

// Fake is an in-memory VenueClient.
type Fake struct {
	mu sync.Mutex

	VenueName string
	Balances  map[string]types.Balance // keyed by asset
	FillPrice float64                  // avg price for auto-filled orders

	// Scripted order responses consumed in order by PlaceMarketOrder.
	// A script entry with a non-nil Err fails the call instead.
	OrderScript []ScriptedOrder

	// Per-op injected failures. Keys: "balance", "place", "cancel",
	// "leverage", "stream".
	Fail map[string]error

	// StreamUpdates are delivered on every stream before it idles until
	// cancellation.
	StreamUpdates []types.PriceUpdate

	// LeverageUnsupported makes SetLeverage return exchange.ErrUnsupported.
	LeverageUnsupported bool

	calls  []Call
	nextID int
	closed bool
}

// ScriptedOrder is one pre-programmed PlaceMarketOrder outcome.
type ScriptedOrder struct {
	Order types.Order
	Err   error
}

// NewFake builds a fake with a generous default balance.
func NewFake(name string) *Fake {
	return &Fake{
		VenueName: name,
		Balances: map[string]types.Balance{
			"USDT": {Asset: "USDT", Free: 1_000_000},
		},
		FillPrice: 100,
		Fail:      map[string]error{},
	}
}

func (f *Fake) Name() string { return f.VenueName }

// Calls returns a copy of the recorded call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor filters the call log by operation name.
func (f *Fake) CallsFor(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// SetBalance overwrites one asset's balance.
func (f *Fake) SetBalance(asset string, free float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balances[asset] = types.Balance{Asset: asset, Free: free}
}

func (f *Fake) record(c Call) {
	f.calls = append(f.calls, c)
}

func (f *Fake) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "balance", Symbol: asset})
	if err := f.Fail["balance"]; err != nil {
		return types.Balance{}, err
	}
	if b, ok := f.Balances[asset]; ok {
		return b, nil
	}
	return types.Balance{Asset: asset}, nil
}

func (f *Fake) GetBalances(ctx context.Context) ([]types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "balances"})
	if err := f.Fail["balance"]; err != nil {
		return nil, err
	}
	out := make([]types.Balance, 0, len(f.Balances))
	for _, b := range f.Balances {
		out = append(out, b)
	}
	return out, nil
}

func (f *Fake) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity float64) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "place", Symbol: symbol, Side: side, Quantity: quantity})
	if err := f.Fail["place"]; err != nil {
		return types.Order{}, err
	}

	if len(f.OrderScript) > 0 {
		next := f.OrderScript[0]
		f.OrderScript = f.OrderScript[1:]
		if next.Err != nil {
			return types.Order{}, next.Err
		}
		order := next.Order
		if order.ID == "" {
			order.ID = f.newID()
		}
		if order.Symbol == "" {
			order.Symbol = symbol
		}
		if order.Side == "" {
			order.Side = side
		}
		if order.Quantity == 0 {
			order.Quantity = quantity
		}
		return order, nil
	}

	return types.Order{
		ID:       f.newID(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Filled:   quantity,
		AvgPrice: f.FillPrice,
		Status:   types.StatusFilled,
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "cancel", Symbol: symbol, OrderID: orderID})
	if err := f.Fail["cancel"]; err != nil {
		return types.Order{}, err
	}
	return types.Order{ID: orderID, Symbol: symbol, Status: types.StatusCancelled}, nil
}

func (f *Fake) SetLeverage(ctx context.Context, leverage float64, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "leverage", Symbol: symbol, Leverage: leverage})
	if f.LeverageUnsupported {
		return exchange.ErrUnsupported
	}
	return f.Fail["leverage"]
}

func (f *Fake) StreamMarkPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	return f.stream(ctx, symbol)
}

func (f *Fake) StreamSpotPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	return f.stream(ctx, symbol)
}

// stream delivers any scripted updates, then idles until ctx cancellation
// closes the channel.
func (f *Fake) stream(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	f.mu.Lock()
	f.record(Call{Op: "stream", Symbol: symbol})
	err := f.Fail["stream"]
	updates := make([]types.PriceUpdate, len(f.StreamUpdates))
	copy(updates, f.StreamUpdates)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan types.PriceUpdate, len(updates))
	go func() {
		defer close(ch)
		for _, u := range updates {
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("%s-%d", f.VenueName, f.nextID)
}

var _ exchange.VenueClient = (*Fake)(nil)
