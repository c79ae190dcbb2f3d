// Package launch tracks launch readiness. The state moves between READY
// and BLOCKED as audits pass or fail, and becomes LAUNCHED, permanently,
// the first time an audit finds no gaps.
package launch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// Check is one named readiness check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Checklist is the result of one audit, in probe order.
type Checklist struct {
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Gaps returns the names of failing checks in checklist order.
func (c Checklist) Gaps() []string {
	var gaps []string
	for _, ch := range c.Checks {
		if !ch.Passed {
			gaps = append(gaps, ch.Name)
		}
	}
	return gaps
}

// Outcome reports what Apply did.
type Outcome struct {
	Previous protocol.LaunchStatus `json:"previous"`
	Status   protocol.LaunchStatus `json:"status"`
	Gaps     []string              `json:"gaps,omitempty"`
	Changed  bool                  `json:"changed"`
}

// gapsSnapshot is the launch/gaps record.
type gapsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Gaps      []string  `json:"gaps"`
}

// Machine is the LaunchStateMachine backed by the launch/state record.
type Machine struct {
	store  *store.Store
	logger *zap.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(st *store.Store, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{store: st, logger: logger.Named("launch"), nowFunc: time.Now}
}

// SetNowFunc overrides the clock (tests only).
func (m *Machine) SetNowFunc(fn func() time.Time) {
	m.nowFunc = fn
}

// State returns the current launch state; READY when nothing was recorded.
func (m *Machine) State(ctx context.Context) (protocol.LaunchState, error) {
	var st protocol.LaunchState
	found, err := m.store.GetRecord(ctx, protocol.RecordLaunchState, &st)
	if err != nil {
		return protocol.LaunchState{}, fmt.Errorf("read launch state: %w", err)
	}
	if !found || st.Status == "" {
		return protocol.LaunchState{Status: protocol.LaunchReady}, nil
	}
	return st, nil
}

// Launched reports whether the terminal state was reached. Read errors
// count as not launched.
func (m *Machine) Launched(ctx context.Context) bool {
	st, err := m.State(ctx)
	if err != nil {
		m.logger.Warn("read launch state", zap.Error(err))
		return false
	}
	return st.Status == protocol.LaunchLaunched
}

// Apply feeds one audit into the machine. An empty gap list launches; any
// gap blocks. Once LAUNCHED every Apply is a no-op with Changed false.
func (m *Machine) Apply(ctx context.Context, cl Checklist) (Outcome, error) {
	now := m.nowFunc().UTC()
	if cl.Timestamp.IsZero() {
		cl.Timestamp = now
	}
	gaps := cl.Gaps()

	var out Outcome
	next, err := store.UpdateRecord(ctx, m.store, protocol.RecordLaunchState,
		func(cur *protocol.LaunchState, found bool) error {
			prev := cur.Status
			if !found || prev == "" {
				prev = protocol.LaunchReady
			}
			out = Outcome{Previous: prev, Status: prev}
			if prev == protocol.LaunchLaunched {
				return store.ErrNoChange
			}

			status := protocol.LaunchBlocked
			if len(gaps) == 0 {
				status = protocol.LaunchLaunched
			}
			*cur = protocol.LaunchState{Status: status, Timestamp: now, Gaps: slices.Clone(gaps)}
			out = Outcome{Previous: prev, Status: status, Gaps: slices.Clone(gaps), Changed: status != prev}
			return nil
		})
	if err != nil {
		return Outcome{}, fmt.Errorf("apply launch audit: %w", err)
	}
	if out.Previous == protocol.LaunchLaunched {
		return out, nil
	}

	m.snapshot(ctx, cl, next, gaps)
	if out.Changed {
		m.logger.Info("launch state changed",
			zap.String("from", string(out.Previous)),
			zap.String("to", string(out.Status)),
			zap.Strings("gaps", gaps))
	}
	return out, nil
}

// snapshot writes the observable audit artefacts. They are informational,
// so failures are logged only.
func (m *Machine) snapshot(ctx context.Context, cl Checklist, st protocol.LaunchState, gaps []string) {
	if gaps == nil {
		gaps = []string{}
	}
	errs := errors.Join(
		m.store.PutRecord(ctx, protocol.RecordLaunchChecklist, cl),
		m.store.PutRecord(ctx, protocol.RecordLaunchGaps, gapsSnapshot{Timestamp: st.Timestamp, Gaps: gaps}),
	)
	if _, err := m.store.AppendLog(ctx, protocol.StreamLaunch, st); err != nil {
		errs = errors.Join(errs, err)
	}
	if errs != nil {
		m.logger.Warn("write launch snapshots", zap.Error(errs))
	}
}
