// Package symbols normalizes trading symbols across venues.
//
// Venues disagree on symbol spelling: BTCUSDT, BTC-USDT, BTC/USDT all name
// the same pair. The unified form strips separators and uppercases, so
// cross-venue comparisons work on a single canonical string.
package symbols

import (
	"sort"
	"strings"
)

// DefaultQuoteAssets is the fallback quote set for ExtractBaseQuote when the
// symbol carries no separator.
var DefaultQuoteAssets = []string{"USDT", "USDC", "BUSD", "DAI", "TUSD", "USDD"}

// Normalize converts a symbol to the unified form: separators stripped,
// uppercased. Normalize is idempotent.
func Normalize(symbol string) string {
	s := strings.TrimSpace(symbol)
	r := strings.NewReplacer("-", "", "/", "", " ", "")
	return strings.ToUpper(r.Replace(s))
}

// ExtractBaseQuote splits a symbol into base and quote currencies.
// Separators ("-", "/") win; otherwise the longest matching suffix from
// quotes is used (DefaultQuoteAssets when quotes is nil). A symbol with no
// recognizable quote returns (symbol, "").
func ExtractBaseQuote(symbol string, quotes []string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", ""
	}

	for _, sep := range []string{"-", "/"} {
		if strings.Contains(s, sep) {
			parts := strings.SplitN(s, sep, 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			}
		}
	}

	if quotes == nil {
		quotes = DefaultQuoteAssets
	}
	sorted := make([]string, len(quotes))
	copy(sorted, quotes)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, q := range sorted {
		q = strings.ToUpper(q)
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q
		}
	}
	return s, ""
}

// Match reports whether two symbols name the same pair after normalization.
func Match(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
