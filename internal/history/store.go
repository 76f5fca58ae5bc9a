// Package history is the append-only trade event log.
//
// Every event is written to two sinks: a flat CSV file that is the
// authoritative archive, and a SQLite table that serves queries. Writes are
// best-effort per sink; a sink failure is logged and never fails the event.
// Positions are durable only as their event sequence, so the store also knows
// how to fold a position's events back into a Position for startup recovery.
package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"parcer/pkg/types"
)

// EventType enumerates the recorded event kinds.
type EventType string

const (
	EventPositionCreated     EventType = "position_created"
	EventPositionOpened      EventType = "position_opened"
	EventPositionClosed      EventType = "position_closed"
	EventPositionError       EventType = "position_error"
	EventOrderPlaced         EventType = "order_placed"
	EventOrderCancelled      EventType = "order_cancelled"
	EventOrderRollback       EventType = "order_rollback"
	EventOrderFailed         EventType = "order_failed"
	EventInsufficientBalance EventType = "insufficient_balance"
)

// AlertPositionID marks events that belong to no position, e.g. balance
// alerts raised before a position exists.
const AlertPositionID = "ALERT"

// timeLayout renders fixed-width UTC timestamps so lexicographic order in
// SQLite matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// retentionWindow bounds the SQLite query index; the CSV keeps everything.
const retentionWindow = 24 * time.Hour

// Event is one append-only log record.
type Event struct {
	Timestamp    time.Time
	Type         EventType
	PositionID   string
	Scenario     types.Scenario
	ExchangeA    string
	ExchangeB    string
	SymbolA      string
	SymbolB      string
	OrderType    string
	Side         types.Side
	Quantity     float64
	Price        float64
	PnL          float64
	Status       string
	ErrorMessage string
	Metadata     map[string]any
}

var csvHeader = []string{
	"timestamp", "event_type", "position_id", "scenario", "exchange_a",
	"exchange_b", "symbol_a", "symbol_b", "order_type", "side", "quantity",
	"price", "pnl", "status", "error_message", "metadata",
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	position_id   TEXT NOT NULL DEFAULT '',
	scenario      TEXT NOT NULL DEFAULT '',
	exchange_a    TEXT NOT NULL DEFAULT '',
	exchange_b    TEXT NOT NULL DEFAULT '',
	symbol_a      TEXT NOT NULL DEFAULT '',
	symbol_b      TEXT NOT NULL DEFAULT '',
	order_type    TEXT NOT NULL DEFAULT '',
	side          TEXT NOT NULL DEFAULT '',
	quantity      REAL NOT NULL DEFAULT 0,
	price         REAL NOT NULL DEFAULT 0,
	pnl           REAL NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_timestamp ON trades(timestamp);
CREATE INDEX IF NOT EXISTS idx_position_id ON trades(position_id);
`

const insertSQL = `
INSERT INTO trades (
	timestamp, event_type, position_id, scenario, exchange_a, exchange_b,
	symbol_a, symbol_b, order_type, side, quantity, price, pnl, status,
	error_message, metadata
) VALUES (
	:timestamp, :event_type, :position_id, :scenario, :exchange_a, :exchange_b,
	:symbol_a, :symbol_b, :order_type, :side, :quantity, :price, :pnl, :status,
	:error_message, :metadata
)`

const selectCols = `timestamp, event_type, position_id, scenario, exchange_a,
	exchange_b, symbol_a, symbol_b, order_type, side, quantity, price, pnl,
	status, error_message, metadata`

// row is the SQLite projection of an Event.
type row struct {
	Timestamp    string  `db:"timestamp"`
	EventType    string  `db:"event_type"`
	PositionID   string  `db:"position_id"`
	Scenario     string  `db:"scenario"`
	ExchangeA    string  `db:"exchange_a"`
	ExchangeB    string  `db:"exchange_b"`
	SymbolA      string  `db:"symbol_a"`
	SymbolB      string  `db:"symbol_b"`
	OrderType    string  `db:"order_type"`
	Side         string  `db:"side"`
	Quantity     float64 `db:"quantity"`
	Price        float64 `db:"price"`
	PnL          float64 `db:"pnl"`
	Status       string  `db:"status"`
	ErrorMessage string  `db:"error_message"`
	Metadata     string  `db:"metadata"`
}

// Store writes events to the CSV archive and the SQLite index.
// All operations are mutex-protected; SQLite and the appended file both
// dislike interleaved writers.
type Store struct {
	mu     sync.Mutex
	db     *sqlx.DB
	csv    *os.File
	logger *slog.Logger
}

// Open creates the data directory, the CSV archive, and the SQLite index,
// and prunes index rows older than the retention window.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	csvPath := filepath.Join(dataDir, "trades.csv")
	csvFile, err := os.OpenFile(csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv archive: %w", err)
	}
	if info, err := csvFile.Stat(); err == nil && info.Size() == 0 {
		w := csv.NewWriter(csvFile)
		if err := w.Write(csvHeader); err != nil {
			csvFile.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
	}

	db, err := sqlx.Open("sqlite", filepath.Join(dataDir, "trades.db"))
	if err != nil {
		csvFile.Close()
		return nil, fmt.Errorf("open trades db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		csvFile.Close()
		db.Close()
		return nil, fmt.Errorf("create trades schema: %w", err)
	}

	s := &Store{db: db, csv: csvFile, logger: logger.With("component", "history")}

	cutoff := time.Now().Add(-retentionWindow).UTC().Format(timeLayout)
	if _, err := db.Exec(`DELETE FROM trades WHERE timestamp < ?`, cutoff); err != nil {
		s.logger.Warn("retention cleanup failed", "error", err)
	}
	return s, nil
}

// Close flushes and releases both sinks.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	csvErr := s.csv.Close()
	dbErr := s.db.Close()
	if csvErr != nil {
		return csvErr
	}
	return dbErr
}

// Record appends one event to both sinks. Sink failures are logged, never
// returned: losing the query index must not abort a trade in flight.
func (s *Store) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.recordAt(ev)
}

func (s *Store) recordAt(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := toRow(ev)

	w := csv.NewWriter(s.csv)
	record := []string{
		r.Timestamp, r.EventType, r.PositionID, r.Scenario, r.ExchangeA,
		r.ExchangeB, r.SymbolA, r.SymbolB, r.OrderType, r.Side,
		formatFloat(r.Quantity), formatFloat(r.Price), formatFloat(r.PnL),
		r.Status, r.ErrorMessage, r.Metadata,
	}
	if err := w.Write(record); err != nil {
		s.logger.Error("csv append failed", "event", ev.Type, "error", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Error("csv flush failed", "event", ev.Type, "error", err)
	}

	if _, err := s.db.NamedExec(insertSQL, r); err != nil {
		s.logger.Error("trades insert failed", "event", ev.Type, "error", err)
	}
}

// RecentTrades returns events from the last N hours, newest first.
func (s *Store) RecentTrades(hours int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UTC().Format(timeLayout)
	var rows []row
	err := s.db.Select(&rows,
		`SELECT `+selectCols+` FROM trades WHERE timestamp >= ? ORDER BY timestamp DESC, id DESC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	return fromRows(rows), nil
}

// PositionHistory returns all events for a position, oldest first.
func (s *Store) PositionHistory(positionID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionHistoryLocked(positionID)
}

func (s *Store) positionHistoryLocked(positionID string) ([]Event, error) {
	var rows []row
	err := s.db.Select(&rows,
		`SELECT `+selectCols+` FROM trades WHERE position_id = ? ORDER BY timestamp ASC, id ASC`,
		positionID)
	if err != nil {
		return nil, fmt.Errorf("query position history: %w", err)
	}
	return fromRows(rows), nil
}

// LoadPosition folds a position's event stream back into a Position.
// Returns nil when the store holds no events for the id.
func (s *Store) LoadPosition(positionID string) (*types.Position, error) {
	events, err := s.PositionHistory(positionID)
	if err != nil {
		return nil, err
	}
	return FoldPosition(positionID, events), nil
}

// ListPositions loads every known position, optionally filtered by status.
// Pass "" for no filter.
func (s *Store) ListPositions(statusFilter types.PositionStatus) ([]*types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := s.db.Select(&ids,
		`SELECT DISTINCT position_id FROM trades WHERE position_id != '' AND position_id != ? ORDER BY position_id`,
		AlertPositionID)
	if err != nil {
		return nil, fmt.Errorf("query position ids: %w", err)
	}

	var out []*types.Position
	for _, id := range ids {
		events, err := s.positionHistoryLocked(id)
		if err != nil {
			return nil, err
		}
		p := FoldPosition(id, events)
		if p == nil {
			continue
		}
		if statusFilter != "" && p.Status != statusFilter {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// CountOpenPositions counts positions whose latest lifecycle event left them
// OPENED. The count answers the risk gate, so it must come from the log, not
// from memory.
func (s *Store) CountOpenPositions() (int, error) {
	positions, err := s.ListPositions(types.PositionOpened)
	if err != nil {
		return 0, err
	}
	return len(positions), nil
}

// FoldPosition rebuilds a Position from its ordered event stream. The
// creation event seeds identity and legs, position_opened supplies entry
// prices and order ids, position_closed supplies pnl and exit spread, and
// the latest lifecycle event wins for status. Returns nil when the stream
// has no creation event.
func FoldPosition(positionID string, events []Event) *types.Position {
	var p *types.Position
	for _, ev := range events {
		switch ev.Type {
		case EventPositionCreated:
			p = &types.Position{
				ID:        positionID,
				Scenario:  ev.Scenario,
				VenueA:    ev.ExchangeA,
				SymbolA:   ev.SymbolA,
				SideA:     types.BUY,
				QtyA:      ev.Quantity,
				VenueB:    ev.ExchangeB,
				SymbolB:   ev.SymbolB,
				SideB:     types.SELL,
				QtyB:      ev.Quantity,
				Status:    types.PositionPending,
				CreatedAt: ev.Timestamp,
			}
		case EventPositionOpened:
			if p == nil {
				continue
			}
			p.EntryPriceA = metaFloat(ev.Metadata, "entry_price_a")
			p.EntryPriceB = metaFloat(ev.Metadata, "entry_price_b")
			p.OrderIDA = metaString(ev.Metadata, "leg_a_order_id")
			p.OrderIDB = metaString(ev.Metadata, "leg_b_order_id")
			p.EntrySpread = ev.Price
			p.OpenedAt = ev.Timestamp
			p.Status = types.PositionOpened
		case EventPositionClosed:
			if p == nil {
				continue
			}
			p.PnL = ev.PnL
			p.ExitSpread = metaFloat(ev.Metadata, "exit_spread")
			p.ClosedAt = ev.Timestamp
			p.Status = types.PositionClosed
		case EventPositionError:
			if p == nil {
				continue
			}
			p.Status = types.PositionError
		}
	}
	return p
}

func toRow(ev Event) row {
	return row{
		Timestamp:    ev.Timestamp.UTC().Format(timeLayout),
		EventType:    string(ev.Type),
		PositionID:   ev.PositionID,
		Scenario:     string(ev.Scenario),
		ExchangeA:    ev.ExchangeA,
		ExchangeB:    ev.ExchangeB,
		SymbolA:      ev.SymbolA,
		SymbolB:      ev.SymbolB,
		OrderType:    ev.OrderType,
		Side:         string(ev.Side),
		Quantity:     ev.Quantity,
		Price:        ev.Price,
		PnL:          ev.PnL,
		Status:       ev.Status,
		ErrorMessage: ev.ErrorMessage,
		Metadata:     encodeMetadata(ev.Metadata),
	}
}

func fromRows(rows []row) []Event {
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		ts, _ := time.Parse(timeLayout, r.Timestamp)
		out = append(out, Event{
			Timestamp:    ts,
			Type:         EventType(r.EventType),
			PositionID:   r.PositionID,
			Scenario:     types.Scenario(r.Scenario),
			ExchangeA:    r.ExchangeA,
			ExchangeB:    r.ExchangeB,
			SymbolA:      r.SymbolA,
			SymbolB:      r.SymbolB,
			OrderType:    r.OrderType,
			Side:         types.Side(r.Side),
			Quantity:     r.Quantity,
			Price:        r.Price,
			PnL:          r.PnL,
			Status:       r.Status,
			ErrorMessage: r.ErrorMessage,
			Metadata:     decodeMetadata(r.Metadata),
		})
	}
	return out
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(raw)
}

func decodeMetadata(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// metaFloat reads a numeric metadata value; JSON decoding yields float64,
// in-process events may carry any numeric type.
func metaFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func formatFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	return fmt.Sprintf("%g", f)
}
