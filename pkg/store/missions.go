package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ag3/pkg/protocol"
)

// InsertMission persists a newly created mission.
func (s *Store) InsertMission(ctx context.Context, m protocol.Mission) error {
	payload, err := encodeMap(m.Payload)
	if err != nil {
		return fmt.Errorf("encode mission %s payload: %w", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO missions (id, type, capability, payload, status, assigned_to, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.RequiredCapability, payload, string(m.Status), m.AssignedTo, m.Source,
		formatTime(m.CreatedAt))
	if err != nil {
		return persistErr("insert mission "+m.ID, err)
	}
	return nil
}

// UpdateMission writes the mutable fields of m, but only if the stored
// status still equals from. This keeps stored transitions forward-only even
// when two writers race.
func (s *Store) UpdateMission(ctx context.Context, m protocol.Mission, from protocol.MissionStatus) error {
	var output sql.NullString
	if m.Output != nil {
		data, err := json.Marshal(m.Output)
		if err != nil {
			return fmt.Errorf("encode mission %s output: %w", m.ID, err)
		}
		output = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = ?, assigned_to = ?, assigned_at = ?, completed_at = ?, output = ?
		 WHERE id = ? AND status = ?`,
		string(m.Status), m.AssignedTo, formatTimePtr(m.AssignedAt), formatTimePtr(m.CompletedAt), output,
		m.ID, string(from))
	if err != nil {
		return persistErr("update mission "+m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update mission "+m.ID, err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetMission(ctx, m.ID)
	if err != nil {
		return err
	}
	return &protocol.InvalidTransitionError{MissionID: m.ID, From: current.Status, To: m.Status}
}

// GetMission loads one mission by id.
func (s *Store) GetMission(ctx context.Context, id string) (protocol.Mission, error) {
	row := s.db.QueryRowContext(ctx, missionColumns+` WHERE id = ?`, id)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Mission{}, &protocol.MissionNotFoundError{MissionID: id}
	}
	if err != nil {
		return protocol.Mission{}, persistErr("read mission "+id, err)
	}
	return m, nil
}

// MissionFilter configures ListMissions.
type MissionFilter struct {
	Status protocol.MissionStatus // optional
	Limit  int                    // 0 = no limit
	Newest bool                   // newest first instead of creation order
}

// ListMissions returns missions matching f.
func (s *Store) ListMissions(ctx context.Context, f MissionFilter) ([]protocol.Mission, error) {
	query := missionColumns
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	if f.Newest {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq ASC`
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query missions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, persistErr("scan mission", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate missions", err)
	}
	return out, nil
}

// CountMissions returns the total number of missions ever created.
func (s *Store) CountMissions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM missions`).Scan(&n); err != nil {
		return 0, persistErr("count missions", err)
	}
	return n, nil
}

const missionColumns = `SELECT id, type, capability, payload, status, assigned_to, source,
	created_at, assigned_at, completed_at, output FROM missions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(r rowScanner) (protocol.Mission, error) {
	var (
		m                       protocol.Mission
		payload, status         string
		createdAt               string
		assignedAt, completedAt sql.NullString
		output                  sql.NullString
	)
	if err := r.Scan(&m.ID, &m.Type, &m.RequiredCapability, &payload, &status, &m.AssignedTo,
		&m.Source, &createdAt, &assignedAt, &completedAt, &output); err != nil {
		return m, err
	}
	m.Status = protocol.MissionStatus(status)

	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return m, err
	}
	if m.AssignedAt, err = parseTimePtr(assignedAt); err != nil {
		return m, err
	}
	if m.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return m, err
	}
	if payload != "" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
			return m, fmt.Errorf("decode payload: %w", err)
		}
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &m.Output); err != nil {
			return m, fmt.Errorf("decode output: %w", err)
		}
	}
	return m, nil
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
