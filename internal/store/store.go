// Package store provides the local record store for buildings, supply
// items, and buying items, backed by SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/supplied-app/supplied/internal/logging"
)

// ErrNotFound is returned by update operations targeting a missing
// record.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite database with entity CRUD operations. All
// mutations auto-populate timestamps; updates never move an entity's
// updated_at earlier than the value already persisted.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
	now func() time.Time
}

// Open opens (or creates) the local database under dataDir and applies
// pending schema migrations. The database runs in WAL mode with a
// single writer.
func Open(dataDir string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "supplied.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite does not support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:  db,
		log: logging.Component(log, "store"),
		now: time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the store's clock. Tests use it to produce
// deterministic timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// touch returns the updated_at value for a mutation: the current time,
// clamped so it is never earlier than the previously persisted value.
func (s *Store) touch(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func encodeBrands(brands []string) (string, error) {
	if len(brands) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(brands)
	if err != nil {
		return "", fmt.Errorf("failed to encode preferred brands: %w", err)
	}
	return string(raw), nil
}

func decodeBrands(raw string) []string {
	if raw == "" {
		return nil
	}
	var brands []string
	if err := json.Unmarshal([]byte(raw), &brands); err != nil {
		return nil
	}
	return brands
}

// Timestamps are persisted as unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := toMillis(*t)
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}
