package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ag3/pkg/protocol"
)

// maxUpdateAttempts bounds optimistic retries in UpdateRecord.
const maxUpdateAttempts = 5

// ErrNoChange may be returned by an UpdateRecord mutator to leave the record
// untouched. UpdateRecord then returns the current value and a nil error.
var ErrNoChange = errors.New("store: no change")

// lockRecord serializes in-process writers of one record.
func (s *Store) lockRecord(name string) func() {
	v, _ := s.recordLocks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetRecord decodes the record called name into v. It reports false when
// no such record exists.
func (s *Store) GetRecord(ctx context.Context, name string, v any) (bool, error) {
	_, found, err := s.getRecord(ctx, name, v)
	return found, err
}

func (s *Store) getRecord(ctx context.Context, name string, v any) (version int64, found bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT value, version FROM records WHERE name = ?`, name).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, persistErr("read record "+name, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return 0, false, persistErr("decode record "+name, err)
	}
	return version, true, nil
}

// PutRecord overwrites the record called name with v. Use it for snapshots
// that have a single writer; use UpdateRecord for read-modify-write.
func (s *Store) PutRecord(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (name, value, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value,
		     version = records.version + 1, updated_at = excluded.updated_at`,
		name, string(data), formatTime(s.now()))
	if err != nil {
		return persistErr("write record "+name, err)
	}
	return nil
}

// UpdateRecord performs an optimistic read-modify-write of the record called
// name. fn receives the current value (zero value when found is false) and
// mutates it in place. Writers in this process are serialized per record
// name; the write additionally only succeeds if the stored version is
// unchanged, otherwise the read and fn are repeated. fn may run more than
// once and must not have side effects outside cur.
func UpdateRecord[T any](ctx context.Context, s *Store, name string, fn func(cur *T, found bool) error) (T, error) {
	unlock := s.lockRecord(name)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var cur T
		version, found, err := s.getRecord(ctx, name, &cur)
		if err != nil {
			return cur, err
		}

		if err := fn(&cur, found); err != nil {
			if errors.Is(err, ErrNoChange) {
				return cur, nil
			}
			return cur, err
		}

		data, err := json.Marshal(cur)
		if err != nil {
			return cur, fmt.Errorf("encode record %s: %w", name, err)
		}

		var res sql.Result
		if found {
			res, err = s.db.ExecContext(ctx,
				`UPDATE records SET value = ?, version = version + 1, updated_at = ?
				 WHERE name = ? AND version = ?`,
				string(data), formatTime(s.now()), name, version)
		} else {
			res, err = s.db.ExecContext(ctx,
				`INSERT OR IGNORE INTO records (name, value, version, updated_at) VALUES (?, ?, 1, ?)`,
				name, string(data), formatTime(s.now()))
		}
		if err != nil {
			return cur, persistErr("write record "+name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return cur, persistErr("write record "+name, err)
		}
		if n == 1 {
			return cur, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("update record %s: %w", name, protocol.ErrVersionConflict)
}
