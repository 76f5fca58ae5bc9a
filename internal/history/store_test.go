package history

import (
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parcer/pkg/types"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createdEvent(positionID string) Event {
	return Event{
		Type:       EventPositionCreated,
		PositionID: positionID,
		Scenario:   types.ScenarioA,
		ExchangeA:  "okx",
		ExchangeB:  "binance",
		SymbolA:    "BTC-USDT-SWAP",
		SymbolB:    "BTCUSDT",
		Quantity:   0.5,
		Status:     string(types.PositionPending),
	}
}

func openedEvent(positionID string) Event {
	return Event{
		Type:       EventPositionOpened,
		PositionID: positionID,
		Scenario:   types.ScenarioA,
		Price:      0.0435,
		Status:     string(types.PositionOpened),
		Metadata: map[string]any{
			"entry_price_a":  48000.0,
			"entry_price_b":  46000.0,
			"leg_a_order_id": "a-1",
			"leg_b_order_id": "b-1",
		},
	}
}

func TestRecordAndRecentTrades(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, t.TempDir())

	for i, typ := range []EventType{EventPositionCreated, EventOrderPlaced, EventPositionOpened} {
		s.Record(Event{
			Type:       typ,
			PositionID: "p1",
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	events, err := s.RecentTrades(1)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventPositionOpened || events[2].Type != EventPositionCreated {
		t.Errorf("events not newest-first: %v, %v", events[0].Type, events[2].Type)
	}
}

func TestCSVArchive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := openTestStore(t, dir)

	s.Record(Event{
		Type:       EventOrderPlaced,
		PositionID: "p1",
		Side:       types.BUY,
		Quantity:   0.5,
		Price:      48000,
		Metadata:   map[string]any{"exchange": "okx"},
	})

	f, err := os.Open(filepath.Join(dir, "trades.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d csv rows, want header + 1", len(records))
	}
	if len(records[0]) != 16 || records[0][0] != "timestamp" || records[0][15] != "metadata" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][1] != "order_placed" || records[1][9] != "buy" {
		t.Errorf("row = %v", records[1])
	}
}

func TestPositionFoldRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, t.TempDir())

	base := time.Now().Add(-time.Minute)
	created := createdEvent("p1")
	created.Timestamp = base
	s.Record(created)

	opened := openedEvent("p1")
	opened.Timestamp = base.Add(time.Second)
	s.Record(opened)

	p, err := s.LoadPosition("p1")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if p == nil {
		t.Fatal("expected a position")
	}
	if p.Status != types.PositionOpened {
		t.Errorf("status = %s, want opened", p.Status)
	}
	if p.EntryPriceA != 48000 || p.EntryPriceB != 46000 {
		t.Errorf("entry prices = %v/%v", p.EntryPriceA, p.EntryPriceB)
	}
	if p.OrderIDA != "a-1" || p.OrderIDB != "b-1" {
		t.Errorf("order ids = %s/%s", p.OrderIDA, p.OrderIDB)
	}
	if p.QtyA != 0.5 || p.QtyB != 0.5 {
		t.Errorf("quantities = %v/%v", p.QtyA, p.QtyB)
	}

	s.Record(Event{
		Type:       EventPositionClosed,
		PositionID: "p1",
		Timestamp:  base.Add(2 * time.Second),
		PnL:        -1900,
		Status:     string(types.PositionClosed),
		Metadata:   map[string]any{"exit_spread": 0.0022},
	})

	p, err = s.LoadPosition("p1")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if p.Status != types.PositionClosed {
		t.Errorf("status = %s, want closed", p.Status)
	}
	if p.PnL != -1900 {
		t.Errorf("pnl = %v, want -1900", p.PnL)
	}
	if math.Abs(p.ExitSpread-0.0022) > 1e-12 {
		t.Errorf("exit spread = %v, want 0.0022", p.ExitSpread)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, t.TempDir())

	p, err := s.LoadPosition("nope")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
}

func TestListPositionsExcludesAlerts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, t.TempDir())

	s.Record(createdEvent("p1"))
	s.Record(Event{Type: EventInsufficientBalance, PositionID: AlertPositionID})
	s.Record(Event{Type: EventOrderFailed, PositionID: ""})

	positions, err := s.ListPositions("")
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].ID != "p1" {
		t.Errorf("positions = %+v, want only p1", positions)
	}
}

func TestCountOpenPositions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, t.TempDir())

	base := time.Now().Add(-time.Minute)

	// p1 ends opened.
	ev := createdEvent("p1")
	ev.Timestamp = base
	s.Record(ev)
	op := openedEvent("p1")
	op.Timestamp = base.Add(time.Second)
	s.Record(op)

	// p2 opened then closed: not counted.
	ev = createdEvent("p2")
	ev.Timestamp = base
	s.Record(ev)
	op = openedEvent("p2")
	op.PositionID = "p2"
	op.Timestamp = base.Add(time.Second)
	s.Record(op)
	s.Record(Event{
		Type:       EventPositionClosed,
		PositionID: "p2",
		Timestamp:  base.Add(2 * time.Second),
		Status:     string(types.PositionClosed),
	})

	n, err := s.CountOpenPositions()
	if err != nil {
		t.Fatalf("CountOpenPositions: %v", err)
	}
	if n != 1 {
		t.Errorf("open count = %d, want 1", n)
	}

	// A duplicate opened event must not double count: status is derived
	// from the latest event, not accumulated.
	dup := openedEvent("p1")
	dup.Timestamp = base.Add(3 * time.Second)
	s.Record(dup)

	n, err = s.CountOpenPositions()
	if err != nil {
		t.Fatalf("CountOpenPositions: %v", err)
	}
	if n != 1 {
		t.Errorf("open count after duplicate = %d, want 1", n)
	}
}

func TestRestartRecovery(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	base := time.Now().Add(-time.Minute)
	ev := createdEvent("px")
	ev.Timestamp = base
	s.Record(ev)
	op := openedEvent("px")
	op.PositionID = "px"
	op.Timestamp = base.Add(time.Second)
	s.Record(op)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fresh := openTestStore(t, dir)
	p, err := fresh.LoadPosition("px")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if p == nil || p.Status != types.PositionOpened {
		t.Fatalf("recovered position = %+v, want opened", p)
	}

	opened, err := fresh.ListPositions(types.PositionOpened)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(opened) != 1 || opened[0].ID != "px" {
		t.Errorf("opened positions = %+v, want px", opened)
	}

	n, err := fresh.CountOpenPositions()
	if err != nil {
		t.Fatalf("CountOpenPositions: %v", err)
	}
	if n < 1 {
		t.Errorf("open count = %d, want >= 1", n)
	}
}

func TestRetentionPrunesOldIndexRows(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	old := createdEvent("ancient")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	s.recordAt(old)
	s.Record(createdEvent("recent"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fresh := openTestStore(t, dir)
	events, err := fresh.PositionHistory("ancient")
	if err != nil {
		t.Fatalf("PositionHistory: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected old index rows pruned, got %d", len(events))
	}
	events, err = fresh.PositionHistory("recent")
	if err != nil {
		t.Fatalf("PositionHistory: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("recent rows = %d, want 1", len(events))
	}

	// The CSV archive keeps everything.
	raw, err := os.ReadFile(filepath.Join(dir, "trades.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.Contains(string(raw), "ancient") {
		t.Error("csv archive lost the pruned event")
	}
}
