// Package exchange defines the venue client contract and the adapters that
// implement it.
//
// The core engine only ever talks to the VenueClient interface: balances,
// market orders, cancels, leverage, and the two price streams. Each venue is
// a separate adapter file speaking that venue's REST/WebSocket dialect; the
// factory maps configured exchange names to constructors. Venues that have no
// push stream fall back to REST polling (poll.go).
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"parcer/pkg/types"
)

// VenueClient is the narrow contract every venue adapter implements.
//
// All methods take a context and honor its cancellation; stream channels are
// closed by the adapter when the underlying connection dies or the context is
// cancelled, and the caller is expected to re-subscribe.
type VenueClient interface {
	// Name returns the configured venue name, e.g. "binance".
	Name() string

	// GetBalance fetches the balance for one asset. Venues report a zero
	// balance for assets the account has never touched.
	GetBalance(ctx context.Context, asset string) (types.Balance, error)

	// GetBalances fetches all non-zero balances.
	GetBalances(ctx context.Context) ([]types.Balance, error)

	// PlaceMarketOrder submits a market order and returns the venue's
	// normalized response. The returned order's Status reflects what the
	// venue reported at submission time.
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity float64) (types.Order, error)

	// CancelOrder cancels a resting order. Some venues require the symbol.
	CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error)

	// SetLeverage configures margin leverage for a perpetual symbol.
	// Venues without leverage support return ErrUnsupported.
	SetLeverage(ctx context.Context, leverage float64, symbol string) error

	// StreamMarkPrice delivers mark price updates until the stream breaks
	// or ctx is cancelled, then closes the channel.
	StreamMarkPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error)

	// StreamSpotPrice delivers spot price updates; same semantics.
	StreamSpotPrice(ctx context.Context, symbol string) (<-chan types.PriceUpdate, error)

	// Close releases HTTP sessions and open connections.
	Close() error
}

// SignHex returns the hex HMAC-SHA256 of message, as used by binance-style APIs.
func SignHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBase64 returns the base64 HMAC-SHA256 of message, as used by okx-style APIs.
func SignBase64(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
