// binance.go implements the Binance venue adapter.
//
// REST goes through two resty clients: the spot API (api.binance.com) for
// balances and orders, and the futures API (fapi.binance.com) for leverage
// and mark prices. Both price kinds stream over WebSocket: mark price via the
// futures <symbol>@markPrice@1s stream, spot via the <symbol>@trade stream.
// Every REST call is signed with HMAC-SHA256 and rate-limited.

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"parcer/internal/config"
	"parcer/pkg/symbols"
	"parcer/pkg/types"
)

const (
	binanceSpotURL        = "https://api.binance.com"
	binanceSpotTestURL    = "https://testnet.binance.vision"
	binanceFuturesURL     = "https://fapi.binance.com"
	binanceFuturesTestURL = "https://testnet.binancefuture.com"
	binanceWSSpotURL      = "wss://stream.binance.com:9443/ws"
	binanceWSFuturesURL   = "wss://fstream.binance.com/ws"

	binanceQtyPrecision = 8                // max base-asset decimals accepted by the API
	wsReadTimeout       = 90 * time.Second // silent connection is treated as dead
)

// Binance is the Binance venue client.
type Binance struct {
	apiKey     string
	apiSecret  string
	recvWindow int

	spot    *resty.Client
	futures *resty.Client
	limiter *rate.Limiter
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewBinance creates a Binance client from config. Binance takes symbols in
// their concatenated form, so the quote set in opts is unused here.
func NewBinance(cfg config.ExchangeConfig, opts Options, logger *slog.Logger) (VenueClient, error) {
	spotBase, futBase := binanceSpotURL, binanceFuturesURL
	if cfg.Sandbox {
		spotBase, futBase = binanceSpotTestURL, binanceFuturesTestURL
	}

	recvWindow := 5000
	if v, ok := cfg.Options["recv_window_ms"].(int); ok && v > 0 {
		recvWindow = v
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if opts.ProxyURL != "" {
		parsed, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("binance: parse proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(parsed)
	}

	return &Binance{
		apiKey:     cfg.Credentials.APIKey,
		apiSecret:  cfg.Credentials.APISecret,
		recvWindow: recvWindow,
		spot:       newRestClient(spotBase, opts.ProxyURL),
		futures:    newRestClient(futBase, opts.ProxyURL),
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		dialer:     dialer,
		logger:     logger,
	}, nil
}

// newRestClient builds a resty client with the timeout and retry policy all
// adapters share.
func newRestClient(baseURL, proxyURL string) *resty.Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("User-Agent", "parcer/1.0")
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	return c
}

func (b *Binance) Name() string { return "binance" }

// signQuery adds timestamp/recvWindow and the HMAC signature to params.
func (b *Binance) signQuery(params url.Values) url.Values {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", fmt.Sprintf("%d", b.recvWindow))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	params.Set("signature", SignHex(b.apiSecret, strings.Join(parts, "&")))
	return params
}

type binanceAccount struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalances fetches all non-zero spot balances.
func (b *Binance) GetBalances(ctx context.Context) ([]types.Balance, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var acct binanceAccount
	resp, err := b.spot.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", b.apiKey).
		SetQueryParamsFromValues(b.signQuery(url.Values{})).
		SetResult(&acct).
		Get("/api/v3/account")
	if err != nil {
		return nil, venueErr("binance", "get balance", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venueErrf("binance", "get balance", "status %d: %s", resp.StatusCode(), resp.String())
	}

	var out []types.Balance
	for _, bal := range acct.Balances {
		free := parseFloat(bal.Free)
		locked := parseFloat(bal.Locked)
		if free > 0 || locked > 0 {
			out = append(out, types.Balance{Asset: bal.Asset, Free: free, Used: locked})
		}
	}
	return out, nil
}

// GetBalance fetches one asset's balance; zero if the account holds none.
func (b *Binance) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	balances, err := b.GetBalances(ctx)
	if err != nil {
		return types.Balance{}, err
	}
	for _, bal := range balances {
		if strings.EqualFold(bal.Asset, asset) {
			return bal, nil
		}
	}
	return types.Balance{Asset: strings.ToUpper(asset)}, nil
}

type binanceOrder struct {
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Status          string `json:"status"`
	OrigQty         string `json:"origQty"`
	ExecutedQty     string `json:"executedQty"`
	CumulativeQuote string `json:"cummulativeQuoteQty"`
}

func (o binanceOrder) normalize(requested float64) types.Order {
	filled := parseFloat(o.ExecutedQty)
	var avg float64
	if quote := parseFloat(o.CumulativeQuote); quote > 0 && filled > 0 {
		avg = quote / filled
	}
	return types.Order{
		ID:       fmt.Sprintf("%d", o.OrderID),
		Symbol:   o.Symbol,
		Side:     types.Side(strings.ToLower(o.Side)),
		Quantity: requested,
		Filled:   filled,
		AvgPrice: avg,
		Status:   types.ParseOrderStatus(o.Status),
		Raw:      o.Status,
	}
}

// PlaceMarketOrder submits a spot market order.
func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity float64) (types.Order, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbols.Normalize(symbol))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(quantity))

	var order binanceOrder
	resp, err := b.spot.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", b.apiKey).
		SetQueryParamsFromValues(b.signQuery(params)).
		SetResult(&order).
		Post("/api/v3/order")
	if err != nil {
		return types.Order{}, venueErr("binance", "place order", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Order{}, venueErrf("binance", "place order", "status %d: %s", resp.StatusCode(), resp.String())
	}
	return order.normalize(quantity), nil
}

// CancelOrder cancels a resting order; Binance requires the symbol.
func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	if symbol == "" {
		return types.Order{}, venueErrf("binance", "cancel order", "symbol is required")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbols.Normalize(symbol))
	params.Set("orderId", orderID)

	var order binanceOrder
	resp, err := b.spot.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", b.apiKey).
		SetQueryParamsFromValues(b.signQuery(params)).
		SetResult(&order).
		Delete("/api/v3/order")
	if err != nil {
		return types.Order{}, venueErr("binance", "cancel order", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Order{}, venueErrf("binance", "cancel order", "status %d: %s", resp.StatusCode(), resp.String())
	}
	return order.normalize(parseFloat(order.OrigQty)), nil
}

// SetLeverage sets futures leverage for a symbol.
func (b *Binance) SetLeverage(ctx context.Context, leverage float64, symbol string) error {
	if symbol == "" {
		return venueErrf("binance", "set leverage", "symbol is required")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbols.Normalize(symbol))
	params.Set("leverage", fmt.Sprintf("%d", int(leverage)))

	resp, err := b.futures.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", b.apiKey).
		SetQueryParamsFromValues(b.signQuery(params)).
		Post("/fapi/v1/leverage")
	if err != nil {
		return venueErr("binance", "set leverage", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return venueErrf("binance", "set leverage", "status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// binanceTick is the common shape of markPrice and trade stream events:
// "p" carries the price, "E" the event time in ms.
type binanceTick struct {
	Price string `json:"p"`
	Time  int64  `json:"E"`
}

// StreamMarkPrice streams the futures mark price over WebSocket.
func (b *Binance) StreamMarkPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	stream := strings.ToLower(symbols.Normalize(symbol)) + "@markPrice@1s"
	return b.streamTicks(ctx, binanceWSFuturesURL+"/"+stream, symbol)
}

// StreamSpotPrice streams spot trades over WebSocket; each trade price is a
// spot price observation.
func (b *Binance) StreamSpotPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	stream := strings.ToLower(symbols.Normalize(symbol)) + "@trade"
	return b.streamTicks(ctx, binanceWSSpotURL+"/"+stream, symbol)
}

// streamTicks dials a single-stream WebSocket endpoint and feeds updates to
// the returned channel until the connection breaks or ctx is cancelled.
func (b *Binance) streamTicks(ctx context.Context, wsURL, symbol string) (<-chan types.PriceUpdate, error) {
	conn, _, err := b.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, venueErr("binance", "dial stream", err)
	}

	ch := make(chan types.PriceUpdate, 16)

	// Close the connection when the caller gives up so the read loop unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(ch)
		defer conn.Close()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("stream read failed", "symbol", symbol, "error", err)
				}
				return
			}

			var tick binanceTick
			if err := json.Unmarshal(msg, &tick); err != nil || tick.Price == "" {
				continue
			}
			ts := tick.Time
			if ts == 0 {
				ts = types.NowMS()
			}
			update := types.PriceUpdate{Symbol: symbol, Price: parseFloat(tick.Price), TimestampMS: ts}

			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close is a no-op: resty pools close with the process, stream connections
// close with their contexts.
func (b *Binance) Close() error { return nil }

// formatQty renders a base-asset quantity at venue precision, truncating
// rather than rounding so the order never exceeds the intended size.
func formatQty(q float64) string {
	return decimal.NewFromFloat(q).Truncate(binanceQtyPrecision).String()
}

// parseFloat parses a venue decimal string; malformed input yields 0.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
