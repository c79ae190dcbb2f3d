package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MarkEventSeen records id in the seen set. It reports true only for the
// caller that inserted the id; a concurrent or repeated delivery of the same
// id reports false.
func (s *Store) MarkEventSeen(ctx context.Context, id, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_events (id, type, seen_at) VALUES (?, ?, ?)`,
		id, eventType, formatTime(s.now()))
	if err != nil {
		return false, persistErr("mark event seen", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("mark event seen", err)
	}
	return n == 1, nil
}

// EventSeen reports whether id is already in the seen set.
func (s *Store) EventSeen(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM seen_events WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("lookup seen event", err)
	}
	return true, nil
}

// CountSeenEvents counts seen events, optionally restricted to one type.
func (s *Store) CountSeenEvents(ctx context.Context, eventType string) (int64, error) {
	query := `SELECT COUNT(*) FROM seen_events`
	var args []any
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, persistErr("count seen events", err)
	}
	return n, nil
}

// PruneSeenEvents deletes seen ids recorded before cutoff and returns the
// number removed. A pruned id that is delivered again is treated as new.
func (s *Store) PruneSeenEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE seen_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, persistErr("prune seen events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("prune seen events", err)
	}
	return n, nil
}

// ForgetEvent removes id from the seen set so that a redelivery is accepted
// again. It is used when an accepted event could not be turned into a
// mission.
func (s *Store) ForgetEvent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE id = ?`, id); err != nil {
		return persistErr("forget event", err)
	}
	return nil
}
