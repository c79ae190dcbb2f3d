package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ag3/pkg/protocol"
)

// UpsertAgent inserts a, or refreshes role, capabilities, endpoint and
// last_seen of an existing row. registered_at is never overwritten.
func (s *Store) UpsertAgent(ctx context.Context, a protocol.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("encode agent %s capabilities: %w", a.Name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (name, role, capabilities, endpoint, registered_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET role = excluded.role,
		     capabilities = excluded.capabilities, endpoint = excluded.endpoint,
		     last_seen = excluded.last_seen`,
		a.Name, a.Role, string(caps), a.Endpoint, formatTime(a.RegisteredAt), formatTime(a.LastSeen))
	if err != nil {
		return persistErr("upsert agent "+a.Name, err)
	}
	return nil
}

// TouchAgent updates an agent's last_seen time.
func (s *Store) TouchAgent(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen = ? WHERE name = ?`, formatTime(at), name)
	if err != nil {
		return persistErr("touch agent "+name, err)
	}
	return nil
}

// LoadAgents returns all persisted agents ordered by name.
func (s *Store) LoadAgents(ctx context.Context) ([]protocol.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, role, capabilities, endpoint, registered_at, last_seen FROM agents ORDER BY name`)
	if err != nil {
		return nil, persistErr("query agents", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Agent
	for rows.Next() {
		var a protocol.Agent
		var caps, registeredAt, lastSeen string
		if err := rows.Scan(&a.Name, &a.Role, &caps, &a.Endpoint, &registeredAt, &lastSeen); err != nil {
			return nil, persistErr("scan agent", err)
		}
		if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
			return nil, persistErr("decode agent "+a.Name, err)
		}
		if a.RegisteredAt, err = parseTime(registeredAt); err != nil {
			return nil, persistErr("decode agent "+a.Name, err)
		}
		if a.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, persistErr("decode agent "+a.Name, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate agents", err)
	}
	return out, nil
}
