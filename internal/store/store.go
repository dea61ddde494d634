// Package store persists bills, sections, and similarity relations in
// SQLite. All writes are idempotent upserts stamped with a currency
// epoch; a sweep deletes relation rows from older epochs.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path. ":memory:"
// opens an in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the pragmas effective and sidesteps
	// SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB exposes the underlying handle for diagnostics.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bill (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		billnumber TEXT NOT NULL,
		version TEXT NOT NULL,
		length INTEGER,
		sections_num INTEGER,
		UNIQUE(billnumber, version)
	);

	CREATE TABLE IF NOT EXISTS section_item (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		billnumber_version TEXT NOT NULL,
		section_id_attr TEXT NOT NULL,
		label TEXT,
		header TEXT,
		length INTEGER,
		UNIQUE(billnumber_version, section_id_attr)
	);

	CREATE TABLE IF NOT EXISTS bill_to_bill (
		bill_id INTEGER NOT NULL,
		bill_to_id INTEGER NOT NULL,
		score_es REAL,
		score REAL,
		score_to REAL,
		reasonsstring TEXT,
		identified_by TEXT,
		sections_num INTEGER,
		sections_match INTEGER,
		currency_id INTEGER NOT NULL,
		PRIMARY KEY (bill_id, bill_to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_bill_to_bill_currency
		ON bill_to_bill(currency_id);

	CREATE TABLE IF NOT EXISTS section_to_section (
		section_id INTEGER NOT NULL,
		section_to_id INTEGER NOT NULL,
		bill_id INTEGER NOT NULL,
		bill_to_id INTEGER NOT NULL,
		score REAL,
		currency_id INTEGER NOT NULL,
		PRIMARY KEY (section_id, section_to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_section_to_section_bills
		ON section_to_section(bill_id, bill_to_id);
	CREATE INDEX IF NOT EXISTS idx_section_to_section_currency
		ON section_to_section(currency_id);

	CREATE TABLE IF NOT EXISTS currency (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT,
		run_id TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// withRetry retries a write once after a short pause when SQLite
// reports contention.
func (s *Store) withRetry(op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		s.logger.Debug("retrying contended write", zap.Error(err))
		time.Sleep(100 * time.Millisecond)
		return op()
	}
	return err
}

// Stats returns row counts per table.
func (s *Store) Stats() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]int)
	for _, table := range []string{"bill", "section_item", "bill_to_bill", "section_to_section", "currency"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
