// okx.go implements the OKX venue adapter.
//
// OKX signs requests with a base64 HMAC over timestamp+method+path+body and
// carries credentials in OK-ACCESS-* headers. Both price kinds are served by
// REST polling: mark price from the public mark-price endpoint, spot from the
// market ticker. Sandbox mode uses the production host with the simulated
// trading header.

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"parcer/internal/config"
	"parcer/pkg/symbols"
	"parcer/pkg/types"
)

const okxBaseURL = "https://www.okx.com"

// OKX is the OKX venue client.
type OKX struct {
	apiKey     string
	apiSecret  string
	passphrase string
	sandbox    bool

	http         *resty.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	quoteAssets  []string
	logger       *slog.Logger
}

// NewOKX creates an OKX client from config.
func NewOKX(cfg config.ExchangeConfig, opts Options, logger *slog.Logger) (VenueClient, error) {
	pollInterval := defaultPollInterval
	if v, ok := cfg.Options["poll_interval_ms"].(int); ok && v > 0 {
		pollInterval = time.Duration(v) * time.Millisecond
	}

	return &OKX{
		apiKey:       cfg.Credentials.APIKey,
		apiSecret:    cfg.Credentials.APISecret,
		passphrase:   cfg.Credentials.Passphrase,
		sandbox:      cfg.Sandbox,
		http:         newRestClient(okxBaseURL, opts.ProxyURL),
		limiter:      rate.NewLimiter(rate.Limit(5), 10),
		pollInterval: pollInterval,
		quoteAssets:  opts.QuoteAssets,
		logger:       logger,
	}, nil
}

func (o *OKX) Name() string { return "okx" }

// okxEnvelope is the common OKX response wrapper; code "0" means success.
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// signedRequest performs an authenticated call. path must include the query
// string, body is the JSON payload or nil.
func (o *OKX) signedRequest(ctx context.Context, method, path string, body any) (*okxEnvelope, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, venueErr("okx", "encode request", err)
		}
		payload = string(raw)
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	req := o.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("OK-ACCESS-KEY", o.apiKey).
		SetHeader("OK-ACCESS-SIGN", SignBase64(o.apiSecret, ts+method+path+payload)).
		SetHeader("OK-ACCESS-TIMESTAMP", ts).
		SetHeader("OK-ACCESS-PASSPHRASE", o.passphrase)
	if o.sandbox {
		req.SetHeader("x-simulated-trading", "1")
	}
	if payload != "" {
		req.SetBody(payload)
	}

	var env okxEnvelope
	req.SetResult(&env)

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = req.Get(path)
	case http.MethodPost:
		resp, err = req.Post(path)
	default:
		return nil, venueErrf("okx", "request", "unsupported method %s", method)
	}
	if err != nil {
		return nil, venueErr("okx", "request "+path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venueErrf("okx", "request "+path, "status %d: %s", resp.StatusCode(), resp.String())
	}
	if env.Code != "0" {
		return nil, venueErrf("okx", "request "+path, "code %s: %s", env.Code, env.Msg)
	}
	return &env, nil
}

// publicRequest performs an unauthenticated GET.
func (o *OKX) publicRequest(ctx context.Context, path string) (*okxEnvelope, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var env okxEnvelope
	resp, err := o.http.R().SetContext(ctx).SetResult(&env).Get(path)
	if err != nil {
		return nil, venueErr("okx", "request "+path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venueErrf("okx", "request "+path, "status %d: %s", resp.StatusCode(), resp.String())
	}
	if env.Code != "0" {
		return nil, venueErrf("okx", "request "+path, "code %s: %s", env.Code, env.Msg)
	}
	return &env, nil
}

// instID converts a configured symbol to OKX instrument form: BTCUSDT
// becomes BTC-USDT, BTCUSDTSWAP becomes BTC-USDT-SWAP. Symbols already in
// dashed form pass through unchanged. Concatenated symbols split against the
// configured quote set (trading.quote_assets), defaulting when unset.
func (o *OKX) instID(symbol string) string {
	if strings.Contains(symbol, "-") {
		return strings.ToUpper(symbol)
	}
	s := strings.ToUpper(strings.TrimSpace(symbol))
	perp := strings.HasSuffix(s, "SWAP") || strings.HasSuffix(s, "PERP")
	if perp {
		s = strings.TrimSuffix(strings.TrimSuffix(s, "SWAP"), "PERP")
	}
	base, quote := symbols.ExtractBaseQuote(s, o.quoteAssets)
	if quote == "" {
		return s
	}
	if perp {
		return base + "-" + quote + "-SWAP"
	}
	return base + "-" + quote
}

// isSwap reports whether an instrument is a perpetual swap.
func isSwap(inst string) bool {
	return strings.HasSuffix(strings.ToUpper(inst), "-SWAP")
}

type okxBalanceDetail struct {
	Ccy       string `json:"ccy"`
	AvailBal  string `json:"availBal"`
	FrozenBal string `json:"frozenBal"`
}

type okxBalanceData struct {
	Details []okxBalanceDetail `json:"details"`
}

// GetBalances fetches all non-zero trading-account balances.
func (o *OKX) GetBalances(ctx context.Context) ([]types.Balance, error) {
	env, err := o.signedRequest(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, err
	}

	var data []okxBalanceData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, venueErr("okx", "decode balance", err)
	}

	var out []types.Balance
	for _, d := range data {
		for _, det := range d.Details {
			free := parseFloat(det.AvailBal)
			used := parseFloat(det.FrozenBal)
			if free > 0 || used > 0 {
				out = append(out, types.Balance{Asset: det.Ccy, Free: free, Used: used})
			}
		}
	}
	return out, nil
}

// GetBalance fetches one currency's balance; zero if the account holds none.
func (o *OKX) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	env, err := o.signedRequest(ctx, http.MethodGet, "/api/v5/account/balance?ccy="+strings.ToUpper(asset), nil)
	if err != nil {
		return types.Balance{}, err
	}

	var data []okxBalanceData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return types.Balance{}, venueErr("okx", "decode balance", err)
	}
	for _, d := range data {
		for _, det := range d.Details {
			if strings.EqualFold(det.Ccy, asset) {
				return types.Balance{
					Asset: det.Ccy,
					Free:  parseFloat(det.AvailBal),
					Used:  parseFloat(det.FrozenBal),
				}, nil
			}
		}
	}
	return types.Balance{Asset: strings.ToUpper(asset)}, nil
}

type okxOrderDetail struct {
	OrdID     string `json:"ordId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	State     string `json:"state"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

func (d okxOrderDetail) normalize(requested float64) types.Order {
	return types.Order{
		ID:       d.OrdID,
		Symbol:   d.InstID,
		Side:     types.Side(strings.ToLower(d.Side)),
		Quantity: requested,
		Filled:   parseFloat(d.AccFillSz),
		AvgPrice: parseFloat(d.AvgPx),
		Status:   types.ParseOrderStatus(d.State),
		Raw:      d.State,
	}
}

// fetchOrder retrieves order details after placement so the caller sees fill
// quantity and average price, which the placement ack does not carry.
func (o *OKX) fetchOrder(ctx context.Context, inst, ordID string, requested float64) (types.Order, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", inst, ordID)
	env, err := o.signedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return types.Order{}, err
	}

	var details []okxOrderDetail
	if err := json.Unmarshal(env.Data, &details); err != nil || len(details) == 0 {
		// Placement succeeded; report the order as pending rather than fail.
		return types.Order{ID: ordID, Symbol: inst, Quantity: requested, Status: types.StatusUnknown}, nil
	}
	return details[0].normalize(requested), nil
}

// PlaceMarketOrder submits a market order. Spot orders size in the base
// currency; swap orders size in contracts as configured upstream.
func (o *OKX) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity float64) (types.Order, error) {
	inst := o.instID(symbol)

	body := map[string]string{
		"instId":  inst,
		"ordType": "market",
		"side":    string(side),
		"sz":      formatQty(quantity),
	}
	if isSwap(inst) {
		body["tdMode"] = "cross"
	} else {
		body["tdMode"] = "cash"
		body["tgtCcy"] = "base_ccy"
	}

	env, err := o.signedRequest(ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return types.Order{}, err
	}

	var acks []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(env.Data, &acks); err != nil || len(acks) == 0 {
		return types.Order{}, venueErrf("okx", "place order", "malformed ack: %s", string(env.Data))
	}
	if acks[0].SCode != "0" && acks[0].SCode != "" {
		return types.Order{}, venueErrf("okx", "place order", "code %s: %s", acks[0].SCode, acks[0].SMsg)
	}
	return o.fetchOrder(ctx, inst, acks[0].OrdID, quantity)
}

// CancelOrder cancels a resting order.
func (o *OKX) CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	inst := o.instID(symbol)
	body := map[string]string{"instId": inst, "ordId": orderID}

	if _, err := o.signedRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", body); err != nil {
		return types.Order{}, err
	}
	order, err := o.fetchOrder(ctx, inst, orderID, 0)
	if err != nil {
		return types.Order{ID: orderID, Symbol: inst, Status: types.StatusCancelled}, nil
	}
	return order, nil
}

// SetLeverage sets cross-margin leverage on a swap instrument.
func (o *OKX) SetLeverage(ctx context.Context, leverage float64, symbol string) error {
	inst := o.instID(symbol)
	if !isSwap(inst) {
		return ErrUnsupported
	}

	body := map[string]string{
		"instId":  inst,
		"lever":   fmt.Sprintf("%d", int(leverage)),
		"mgnMode": "cross",
	}
	_, err := o.signedRequest(ctx, http.MethodPost, "/api/v5/account/set-leverage", body)
	return err
}

// StreamMarkPrice polls the public mark-price endpoint.
func (o *OKX) StreamMarkPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	inst := o.instID(symbol)
	if !isSwap(inst) {
		inst += "-SWAP"
	}
	path := "/api/v5/public/mark-price?instType=SWAP&instId=" + inst

	fetch := func(ctx context.Context) (float64, error) {
		env, err := o.publicRequest(ctx, path)
		if err != nil {
			return 0, err
		}
		var data []struct {
			MarkPx string `json:"markPx"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
			return 0, venueErrf("okx", "mark price", "empty response for %s", inst)
		}
		return parseFloat(data[0].MarkPx), nil
	}
	return pollPrices(ctx, symbol, o.pollInterval, fetch, o.logger), nil
}

// StreamSpotPrice polls the market ticker for the last trade price.
func (o *OKX) StreamSpotPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error) {
	inst := strings.TrimSuffix(o.instID(symbol), "-SWAP")
	path := "/api/v5/market/ticker?instId=" + inst

	fetch := func(ctx context.Context) (float64, error) {
		env, err := o.publicRequest(ctx, path)
		if err != nil {
			return 0, err
		}
		var data []struct {
			Last string `json:"last"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
			return 0, venueErrf("okx", "spot price", "empty response for %s", inst)
		}
		return parseFloat(data[0].Last), nil
	}
	return pollPrices(ctx, symbol, o.pollInterval, fetch, o.logger), nil
}

// Close is a no-op; polling loops stop with their contexts.
func (o *OKX) Close() error { return nil }
