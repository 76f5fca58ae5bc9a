package exchange

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"parcer/internal/config"
)

// Options carries the settings every adapter receives on top of its own
// config block: the shared proxy and the quote set used to split symbols.
type Options struct {
	ProxyURL    string
	QuoteAssets []string
}

// Constructor builds a venue client from its config block.
type Constructor func(cfg config.ExchangeConfig, opts Options, logger *slog.Logger) (VenueClient, error)

// constructors maps venue name to adapter constructor. Adding a venue means
// writing an adapter file and registering it here.
var constructors = map[string]Constructor{
	"binance": NewBinance,
	"okx":     NewOKX,
}

// passphraseRequired lists venues whose API needs a passphrase credential.
var passphraseRequired = map[string]bool{
	"okx": true,
}

// New creates a venue client by name.
func New(name string, cfg config.ExchangeConfig, opts Options, logger *slog.Logger) (VenueClient, error) {
	key := strings.ToLower(name)
	ctor, ok := constructors[key]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange %q (supported: %s)", name, strings.Join(Supported(), ", "))
	}
	if passphraseRequired[key] && cfg.Credentials.Passphrase == "" {
		return nil, fmt.Errorf("%s requires credentials.passphrase", key)
	}
	return ctor(cfg, opts, logger.With("venue", key))
}

// Supported returns the registered venue names, sorted.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
