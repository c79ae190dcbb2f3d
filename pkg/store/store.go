// Package store is the persisted state layer for ag3. A single SQLite
// database holds the seen-event set, versioned whole-record documents
// (cycle state, launch state, snapshots), append-only log streams, the
// mission audit trail and the agent table.
//
// The store is designed for one active orchestrator process. Whole-record
// read-modify-write goes through UpdateRecord, which uses optimistic
// versioning so concurrent writers inside that process cannot silently lose
// updates; it does not make the database safe to share across processes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"ag3/pkg/protocol"

	_ "modernc.org/sqlite"
)

// Store wraps the ag3 SQLite state database.
type Store struct {
	db *sql.DB

	recordLocks sync.Map // record name -> *sync.Mutex

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Store on an already opened database. Call Init before use.
func New(db *sql.DB) *Store {
	return &Store{db: db, nowFunc: time.Now}
}

// Open opens a SQLite database at path with WAL journal mode and a 5-second
// busy timeout, applies the schema, and returns the Store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: pragmas are per connection and writes serialize anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	s := New(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Init applies the schema. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetNowFunc overrides the clock used for timestamps (tests only).
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC()
}

func persistErr(op string, err error) error {
	return &protocol.PersistenceError{Op: op, Err: err}
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
