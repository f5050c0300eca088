// Package sqlite implements the candle store on top of SQLite.
//
// The default DSN is a shared in-memory database, so data lives exactly as
// long as the process, like the in-memory store. The primary key
// (instrument, interval, window_start) with INSERT OR REPLACE gives the
// overwrite-on-same-window semantics.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"candle-aggregation/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDSN is a process-lifetime, shared-cache in-memory database.
const DefaultDSN = "file:candles?mode=memory&cache=shared"

// Config configures the SQLite store.
type Config struct {
	DSN string // e.g. DefaultDSN or "data/candles.db"
}

// Store is a model.CandleStore backed by SQLite.
type Store struct {
	db *sql.DB

	// OnError is called whenever a statement fails (optional, for metrics).
	OnError func(op string, err error)
}

// New opens the database and creates the schema.
func New(cfg Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite3", dsn+sep(dsn)+"_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// A single long-lived connection keeps the in-memory database alive and
	// serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite store opened", "component", "sqlite", "dsn", dsn)
	return &Store{db: db}, nil
}

func sep(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			instrument   TEXT    NOT NULL,
			interval     TEXT    NOT NULL,
			window_start INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			volume       INTEGER NOT NULL,
			PRIMARY KEY (instrument, interval, window_start)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save inserts or replaces the candle at its window start.
func (s *Store) Save(instrument, interval string, c model.Candle) {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO candles (instrument, interval, window_start, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, instrument, interval, c.WindowStart, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		s.fail("save", err)
	}
}

// Query returns candles in ascending window-start order. Bounds are
// inclusive; Limit > 0 keeps the newest Limit rows.
func (s *Store) Query(q model.Query) []model.Candle {
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return []model.Candle{}
	}

	stmt := `SELECT window_start, open, high, low, close, volume FROM candles
		WHERE instrument = ? AND interval = ?`
	args := []any{q.Instrument, q.Interval}
	if q.From != nil {
		stmt += ` AND window_start >= ?`
		args = append(args, *q.From)
	}
	if q.To != nil {
		stmt += ` AND window_start <= ?`
		args = append(args, *q.To)
	}
	// Newest first so LIMIT keeps the most recent rows; reversed below.
	stmt += ` ORDER BY window_start DESC`
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(stmt, args...)
	if err != nil {
		s.fail("query", err)
		return []model.Candle{}
	}
	defer rows.Close()

	out := []model.Candle{}
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.WindowStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.fail("scan", err)
			return []model.Candle{}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		s.fail("query", err)
		return []model.Candle{}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ListInstruments returns all instruments with stored candles, sorted.
func (s *Store) ListInstruments() []string {
	rows, err := s.db.Query(`SELECT DISTINCT instrument FROM candles ORDER BY instrument`)
	if err != nil {
		s.fail("list", err)
		return []string{}
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			s.fail("list", err)
			return []string{}
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		s.fail("list", err)
		return []string{}
	}
	return out
}

// Clear deletes all candles.
func (s *Store) Clear() {
	if _, err := s.db.Exec(`DELETE FROM candles`); err != nil {
		s.fail("clear", err)
	}
}

func (s *Store) fail(op string, err error) {
	slog.Error("sqlite statement failed", "component", "sqlite", "op", op, "error", err)
	if s.OnError != nil {
		s.OnError(op, err)
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
