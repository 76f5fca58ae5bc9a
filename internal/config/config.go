// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: config.yml, overridable via
// PARCER_CONFIG) with any setting overridable through PARCER_* environment
// variables: the part after the prefix encodes a dotted path using "__",
// so PARCER_TRADING__LEVERAGE=3 sets trading.leverage.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "PARCER_"

// reservedEnvKeys are PARCER_* variables that are not config overrides.
var reservedEnvKeys = map[string]bool{
	"CONFIG":    true,
	"LOG_LEVEL": true,
}

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Env       string                    `mapstructure:"env"`
	Proxy     ProxyConfig               `mapstructure:"proxy"`
	Trading   TradingConfig             `mapstructure:"trading"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	Arbitrage ArbitrageConfig           `mapstructure:"arbitrage"`
	History   HistoryConfig             `mapstructure:"history"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ProxyConfig holds an optional HTTP proxy applied to every venue client.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ProxyURL returns the proxy URL with credentials embedded, or "" if disabled.
func (p ProxyConfig) ProxyURL() string {
	if !p.Enabled || p.URL == "" {
		return ""
	}
	if p.Username == "" || p.Password == "" {
		return p.URL
	}
	scheme, rest, found := strings.Cut(p.URL, "://")
	if !found {
		scheme, rest = "http", p.URL
	}
	return fmt.Sprintf("%s://%s:%s@%s", scheme, p.Username, p.Password, rest)
}

// TradingConfig tunes sizing and pre-trade risk checks.
//
//   - Leverage: margin leverage applied to perpetual legs.
//   - MaxPositions: cap on simultaneously open positions; 0 blocks every entry.
//   - FixedOrderSize: quote-currency notional per leg; quantity = size / price.
//   - DefaultOrderQty: base-currency quantity used when no price is known.
//   - QtyTolerance: allowed relative gap between requested and filled quantity.
//   - QuoteAsset: the balance currency checked before placing orders.
//   - PerpMarkers: substrings that identify a perpetual/swap symbol.
//   - QuoteAssets: quote set for symbol base/quote extraction.
type TradingConfig struct {
	Leverage        float64  `mapstructure:"leverage"`
	MaxPositions    int      `mapstructure:"max_positions"`
	FixedOrderSize  float64  `mapstructure:"fixed_order_size"`
	DefaultOrderQty float64  `mapstructure:"default_order_qty"`
	QtyTolerance    float64  `mapstructure:"qty_tolerance"`
	QuoteAsset      string   `mapstructure:"quote_asset"`
	PerpMarkers     []string `mapstructure:"perp_markers"`
	QuoteAssets     []string `mapstructure:"quote_assets"`
}

// ExchangeCredentials are venue API credentials. Passphrase is only required
// by some venues (okx, kucoin, bitget).
type ExchangeCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
}

// ExchangeConfig declares one venue adapter instance.
type ExchangeConfig struct {
	Enabled     bool                `mapstructure:"enabled"`
	Sandbox     bool                `mapstructure:"sandbox"`
	Credentials ExchangeCredentials `mapstructure:"credentials"`
	Options     map[string]any      `mapstructure:"options"`
}

// ArbitrageConfig selects the scenario and its two venues. SymbolA and
// SymbolB override Symbol when the venues spell the instrument differently,
// e.g. BTC-USDT-SWAP on okx against BTCUSDT on binance.
type ArbitrageConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Scenario       string        `mapstructure:"scenario"` // "a" or "b"
	ExchangeA      string        `mapstructure:"exchange_a"`
	ExchangeB      string        `mapstructure:"exchange_b"`
	Symbol         string        `mapstructure:"symbol"`
	SymbolA        string        `mapstructure:"symbol_a"`
	SymbolB        string        `mapstructure:"symbol_b"`
	EntryThreshold float64       `mapstructure:"entry_threshold"`
	ExitThreshold  float64       `mapstructure:"exit_threshold"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
}

// LegSymbols resolves the per-venue symbols, falling back to Symbol.
func (a ArbitrageConfig) LegSymbols() (symbolA, symbolB string) {
	symbolA, symbolB = a.SymbolA, a.SymbolB
	if symbolA == "" {
		symbolA = a.Symbol
	}
	if symbolB == "" {
		symbolB = a.Symbol
	}
	return symbolA, symbolB
}

// HistoryConfig sets where the trade log lives (CSV + SQLite).
type HistoryConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// A missing file is treated as an empty mapping so a fully env-driven
// deployment works without one.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path == "" {
		path = "config.yml"
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Missing file: proceed with defaults + env overrides only.
	}

	if err := applyEnvOverrides(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("trading.leverage", 1.0)
	v.SetDefault("trading.max_positions", 1)
	v.SetDefault("trading.fixed_order_size", 10.0)
	v.SetDefault("trading.default_order_qty", 0.001)
	v.SetDefault("trading.qty_tolerance", 0.01)
	v.SetDefault("trading.quote_asset", "USDT")
	v.SetDefault("trading.perp_markers", []string{"PERP", "SWAP"})
	v.SetDefault("arbitrage.scenario", "a")
	v.SetDefault("arbitrage.tick_interval", 500*time.Millisecond)
	v.SetDefault("history.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// applyEnvOverrides walks the environment for PARCER_* variables whose
// remainder contains "__" and sets the corresponding dotted path. Values are
// parsed as YAML scalars so booleans and numbers keep their types.
func applyEnvOverrides(v *viper.Viper) error {
	for _, kv := range os.Environ() {
		key, raw, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		remainder := strings.TrimPrefix(key, EnvPrefix)
		if reservedEnvKeys[remainder] || !strings.Contains(remainder, "__") {
			continue
		}

		var parts []string
		for _, p := range strings.Split(remainder, "__") {
			if p != "" {
				parts = append(parts, strings.ToLower(p))
			}
		}
		if len(parts) == 0 {
			continue
		}

		v.Set(strings.Join(parts, "."), parseScalar(raw))
	}
	return nil
}

// parseScalar interprets an env value the way YAML would: "true" becomes a
// bool, "3" an int, "0.05" a float, anything else stays a string.
func parseScalar(raw string) any {
	var out any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return raw
	}
	if out == nil {
		return raw
	}
	return out
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Trading.Leverage <= 0 {
		return fmt.Errorf("trading.leverage must be > 0")
	}
	if c.Trading.MaxPositions < 0 {
		return fmt.Errorf("trading.max_positions must be >= 0")
	}
	if c.Trading.FixedOrderSize <= 0 {
		return fmt.Errorf("trading.fixed_order_size must be > 0")
	}
	if c.Arbitrage.Enabled {
		switch c.Arbitrage.Scenario {
		case "a", "b":
		default:
			return fmt.Errorf("arbitrage.scenario must be \"a\" or \"b\", got %q", c.Arbitrage.Scenario)
		}
		if c.Arbitrage.ExchangeA == "" || c.Arbitrage.ExchangeB == "" {
			return fmt.Errorf("arbitrage.exchange_a and arbitrage.exchange_b are required")
		}
		if c.Arbitrage.Symbol == "" {
			return fmt.Errorf("arbitrage.symbol is required")
		}
		if c.Arbitrage.EntryThreshold <= 0 {
			return fmt.Errorf("arbitrage.entry_threshold must be > 0")
		}
		if c.Arbitrage.ExitThreshold < 0 {
			return fmt.Errorf("arbitrage.exit_threshold must be >= 0")
		}
	}
	return nil
}

// Redacted returns a copy of the config suitable for logging: all credentials
// and the proxy password are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Exchanges = make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		if ex.Credentials.APIKey != "" {
			ex.Credentials.APIKey = "***"
		}
		if ex.Credentials.APISecret != "" {
			ex.Credentials.APISecret = "***"
		}
		if ex.Credentials.Passphrase != "" {
			ex.Credentials.Passphrase = "***"
		}
		out.Exchanges[name] = ex
	}
	if out.Proxy.Password != "" {
		out.Proxy.Password = "***"
	}
	return out
}
