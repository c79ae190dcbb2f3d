package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ag3/pkg/protocol"
)

// AppendLog appends v as one immutable JSON record to stream and returns
// the record id.
func (s *Store) AppendLog(ctx context.Context, stream string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s log entry: %w", stream, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO log_entries (stream, payload, created_at) VALUES (?, ?, ?)`,
		stream, string(data), formatTime(s.now()))
	if err != nil {
		return 0, persistErr("append "+stream+" log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("append "+stream+" log", err)
	}
	return id, nil
}

// LogQuery specifies filter criteria for reading a log stream.
type LogQuery struct {
	// Stream restricts results to one stream (empty = all streams)
	Stream string

	// After filters entries created at or after this time
	After *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ReadLog returns log entries matching q, newest first.
func (s *Store) ReadLog(ctx context.Context, q LogQuery) ([]protocol.LogEntry, error) {
	query, args := buildLogQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query log", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []protocol.LogEntry
	for rows.Next() {
		var e protocol.LogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Stream, &e.Payload, &createdAt); err != nil {
			return nil, persistErr("scan log entry", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, persistErr("scan log entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate log", err)
	}
	return entries, nil
}

// CountLog returns the number of entries in stream.
func (s *Store) CountLog(ctx context.Context, stream string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM log_entries WHERE stream = ?`, stream).Scan(&n)
	if err != nil {
		return 0, persistErr("count "+stream+" log", err)
	}
	return n, nil
}

// buildLogQuery constructs the SQL query and arguments from LogQuery.
func buildLogQuery(q LogQuery) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, stream, payload, created_at FROM log_entries WHERE 1=1"

	if q.Stream != "" {
		conditions = append(conditions, "stream = ?")
		args = append(args, q.Stream)
	}

	if q.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(*q.After))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	return query, args
}
