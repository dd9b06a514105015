// Package store is the durable record of both tracking lines: the
// active line's positions, the passive benchmark, ingested reports,
// price snapshots, and the append-only decision log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoOpenPosition is returned when an exit is attempted with
// nothing open. Callers log it loudly; it never crashes a cycle.
var ErrNoOpenPosition = errors.New("store: no open position")

const timeFmt = time.RFC3339Nano

// Store wraps the SQLite database. Writes are serialized by the
// single connection; per-ticker mutual exclusion is the engine's job.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// modernc/sqlite is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			stance TEXT NOT NULL,
			confidence REAL NOT NULL,
			rationale TEXT,
			published_at TEXT NOT NULL,
			ingested_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'FLAT',
			direction TEXT,
			entry_price REAL,
			entry_time TEXT,
			entry_reason TEXT,
			entry_report_id TEXT,
			exit_price REAL,
			exit_time TEXT,
			exit_reason TEXT,
			exit_report_id TEXT,
			current_stance TEXT NOT NULL DEFAULT 'FADE',
			stance_confidence REAL NOT NULL DEFAULT 0,
			report_confidence REAL NOT NULL DEFAULT 0,
			house_confidence REAL NOT NULL DEFAULT 0,
			stance_updated_at TEXT,
			stance_report_id TEXT,
			is_ducking INTEGER NOT NULL DEFAULT 0,
			duck_exit_price REAL,
			duck_exit_time TEXT,
			duck_reason TEXT,
			was_overridden INTEGER NOT NULL DEFAULT 0,
			override_reason TEXT,
			override_time TEXT,
			realised_pnl_pct REAL,
			peak_price REAL,
			trough_price REAL,
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS passive_position (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT UNIQUE NOT NULL,
			entry_price REAL NOT NULL,
			entry_time TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS price_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			price REAL NOT NULL,
			open_price REAL,
			high REAL,
			low REAL,
			volume REAL,
			change_pct REAL,
			active_pnl_pct REAL,
			passive_pnl_pct REAL,
			active_state TEXT,
			UNIQUE(ticker, timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS decision_log (
			id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			report_id TEXT,
			old_stance TEXT,
			new_stance TEXT,
			confidence REAL,
			report_confidence REAL,
			house_confidence REAL,
			reason TEXT,
			price_at_decision REAL,
			macro_price REAL,
			macro_change_pct REAL,
			is_override INTEGER NOT NULL DEFAULT 0,
			override_category TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS daily_summary (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			date TEXT NOT NULL,
			open_price REAL,
			close_price REAL,
			high_price REAL,
			low_price REAL,
			active_stance TEXT,
			active_pnl_pct REAL,
			active_position_held INTEGER NOT NULL DEFAULT 0,
			passive_pnl_pct REAL,
			alpha_pct REAL,
			report_received INTEGER NOT NULL DEFAULT 0,
			report_stance TEXT,
			report_confidence REAL,
			UNIQUE(ticker, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ticker_time ON price_snapshots(ticker, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ticker_time ON decision_log(ticker, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_ticker ON active_positions(ticker, closed_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFmt)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFmt, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
