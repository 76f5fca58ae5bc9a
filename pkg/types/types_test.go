package types

import "testing"

func TestParseOrderStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want OrderStatus
	}{
		{"FILLED", StatusFilled},
		{"filled", StatusFilled},
		{"closed", StatusFilled},
		{"Closed", StatusFilled},
		{"NEW", StatusNew},
		{"live", StatusNew},
		{"PARTIALLY_FILLED", StatusPartiallyFilled},
		{"canceled", StatusCancelled},
		{"cancelled", StatusCancelled},
		{"REJECTED", StatusRejected},
		{"expired", StatusRejected},
		{"", StatusUnknown},
		{"weird-venue-state", StatusUnknown},
		{"  filled  ", StatusFilled},
	}

	for _, tt := range tests {
		if got := ParseOrderStatus(tt.raw); got != tt.want {
			t.Errorf("ParseOrderStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if BUY.Opposite() != SELL {
		t.Error("BUY.Opposite() should be SELL")
	}
	if SELL.Opposite() != BUY {
		t.Error("SELL.Opposite() should be BUY")
	}
	if Side("BUY").Opposite() != SELL {
		t.Error("Opposite should be case-insensitive")
	}
}

func TestBalanceTotal(t *testing.T) {
	t.Parallel()

	b := Balance{Asset: "USDT", Free: 100.5, Used: 24.5}
	if got := b.Total(); got != 125.0 {
		t.Errorf("Total() = %v, want 125.0", got)
	}
}
