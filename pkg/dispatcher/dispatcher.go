// Package dispatcher implements the mission queue and the single-flight
// commander that drains it.
//
// Missions are dispatched strictly in FIFO order, one at a time, each to
// exactly one agent chosen by the registry. A failed invocation marks the
// mission failed; it is never retried and never fanned out.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/registry"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// --- Config ---

// Config holds Dispatcher configuration.
type Config struct {
	Timeout              time.Duration // Per-invocation bound (default 30s).
	FallbackPollInterval time.Duration // Safety-net drain interval (default 10s).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	if out.FallbackPollInterval == 0 {
		out.FallbackPollInterval = 10 * time.Second
	}
	return out
}

// --- Dispatcher ---

// Dispatcher is the CommanderDispatcher.
type Dispatcher struct {
	cfg      Config
	queue    *Queue
	registry *registry.Registry
	invoker  Invoker
	store    *store.Store
	logger   *zap.Logger

	draining atomic.Bool

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Dispatcher. It does NOT start draining; call Run() or
// PumpNext().
func New(cfg Config, q *Queue, reg *registry.Registry, inv Invoker, st *store.Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		queue:    q,
		registry: reg,
		invoker:  inv,
		store:    st,
		logger:   logger.Named("dispatcher"),
		nowFunc:  time.Now,
	}
}

// Queue returns the queue drained by d.
func (d *Dispatcher) Queue() *Queue {
	return d.queue
}

// InFlight reports whether a drain is active.
func (d *Dispatcher) InFlight() bool {
	return d.draining.Load()
}

// Restore reloads persisted missions after a restart and fails the ones
// that were assigned when the previous process stopped.
func (d *Dispatcher) Restore(ctx context.Context) error {
	pending, interrupted, err := d.queue.restore(ctx)
	for _, m := range interrupted {
		d.audit(ctx, "interrupted", m, "")
		d.logger.Warn("mission interrupted by restart",
			zap.String("mission", m.ID), zap.String("agent", m.AssignedTo))
	}
	if err != nil {
		return fmt.Errorf("restore missions: %w", err)
	}
	d.logger.Info("missions restored", zap.Int("pending", pending), zap.Int("interrupted", len(interrupted)))
	return nil
}

// Run drains the queue whenever it is woken, and on a fallback ticker as
// a safety net. It returns when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.FallbackPollInterval)
	defer ticker.Stop()

	d.PumpNext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.queue.Wake():
			d.PumpNext(ctx)
		case <-ticker.C:
			d.PumpNext(ctx)
		}
	}
}

// PumpNext drains the queue unless a drain is already active, in which
// case it returns immediately. After releasing the in-flight guard it
// re-checks the queue so that a mission enqueued while the previous drain
// was exiting is not left waiting.
func (d *Dispatcher) PumpNext(ctx context.Context) {
	for {
		if !d.draining.CompareAndSwap(false, true) {
			return
		}
		stalled := d.drain(ctx)
		d.draining.Store(false)

		if stalled || ctx.Err() != nil || d.queue.Depth() == 0 {
			return
		}
	}
}

// drain dispatches queued missions one at a time until the FIFO is empty.
// It reports true when it stopped early on a persistence failure.
func (d *Dispatcher) drain(ctx context.Context) bool {
	for ctx.Err() == nil {
		e, ok := d.queue.pop()
		if !ok {
			return false
		}
		if err := d.dispatch(ctx, e); err != nil {
			d.queue.pushFront(e)
			d.logger.Error("dispatch stalled", zap.String("mission", e.mission.ID), zap.Error(err))
			return true
		}
	}
	return false
}

// dispatch routes one mission to one agent and records the outcome. The
// only error returned is a failure to persist the assignment, in which case
// the mission is still pending.
func (d *Dispatcher) dispatch(ctx context.Context, e *entry) error {
	m := e.mission

	agent, ok := d.registry.Select(m.RequiredCapability)
	if !ok {
		d.queue.park(e)
		uerr := &protocol.UnroutableMissionError{
			MissionID: m.ID, Capability: m.RequiredCapability, Reason: "no agent with capability",
		}
		d.audit(ctx, "unroutable", m, uerr.Error())
		d.logger.Warn("mission unroutable",
			zap.String("mission", m.ID), zap.String("capability", m.RequiredCapability))
		return nil
	}

	assigned, err := d.queue.assign(ctx, e, agent.Name)
	if err != nil {
		return err
	}
	d.logger.Info("mission assigned",
		zap.String("mission", m.ID), zap.String("type", m.Type), zap.String("agent", agent.Name))

	out, invokeErr := d.invoke(ctx, agent, assigned)

	// The outcome is recorded even when ctx was cancelled mid-invocation.
	wctx := context.WithoutCancel(ctx)
	status := protocol.MissionCompleted
	detail := ""
	if invokeErr != nil {
		status = protocol.MissionFailed
		detail = invokeErr.Error()
		if out == nil {
			out = protocol.Output{}
		}
		out["error"] = detail
		out["agent"] = agent.Name
	}

	done, err := d.queue.Complete(wctx, m.ID, status, out)
	if err != nil {
		d.logger.Error("record mission result", zap.String("mission", m.ID), zap.Error(err))
		return nil
	}
	d.audit(wctx, string(status), done, detail)

	if invokeErr != nil {
		d.logger.Warn("mission failed",
			zap.String("mission", m.ID), zap.String("agent", agent.Name), zap.Error(invokeErr))
		return nil
	}
	d.registry.Touch(wctx, agent.Name)
	d.logger.Info("mission completed", zap.String("mission", m.ID), zap.String("agent", agent.Name))
	return nil
}

// invoke calls the invoker under the configured timeout, converting a
// panic into a DispatchError.
func (d *Dispatcher) invoke(ctx context.Context, agent protocol.Agent, m protocol.Mission) (out protocol.Output, err error) {
	ictx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &protocol.DispatchError{MissionID: m.ID, Agent: agent.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = d.invoker.Invoke(ictx, agent, m)
	if err != nil {
		var derr *protocol.DispatchError
		if !errors.As(err, &derr) {
			err = &protocol.DispatchError{MissionID: m.ID, Agent: agent.Name, Err: err}
		}
		return out, err
	}
	return out, nil
}

// Unpark returns parked missions to the queue once some agent serves their
// capability. It is called after every registration.
func (d *Dispatcher) Unpark(capabilities []string) int {
	moved := d.queue.unpark(func(capability string) bool {
		if !slices.Contains(capabilities, capability) {
			return false
		}
		_, ok := d.registry.Select(capability)
		return ok
	})
	if moved > 0 {
		d.logger.Info("missions unparked", zap.Int("count", moved))
	}
	return moved
}

// PollNext hands the oldest pending mission matching capabilities to the
// pulling agent and marks it assigned. Empty capabilities mean every
// capability the agent advertises. It returns nil when nothing matches.
func (d *Dispatcher) PollNext(ctx context.Context, agent string, capabilities []string) (*protocol.Mission, error) {
	a, ok := d.registry.Get(agent)
	if !ok {
		return nil, &protocol.UnknownAgentError{Name: agent}
	}
	if len(capabilities) == 0 {
		capabilities = a.Capabilities
	}
	e, ok := d.queue.claim(capabilities)
	if !ok {
		d.registry.Touch(ctx, agent)
		return nil, nil
	}

	m, err := d.queue.assign(ctx, e, agent)
	if err != nil {
		d.queue.pushFront(e)
		return nil, err
	}
	d.registry.Touch(ctx, agent)
	d.audit(ctx, "polled", m, "")
	d.logger.Info("mission polled", zap.String("mission", m.ID), zap.String("agent", agent))
	return &m, nil
}

// ReportResult records the outcome an agent reports for a polled mission.
func (d *Dispatcher) ReportResult(ctx context.Context, id string, status protocol.MissionStatus, output protocol.Output) (protocol.Mission, error) {
	m, err := d.queue.Complete(ctx, id, status, output)
	if err != nil {
		return m, err
	}
	d.audit(ctx, string(status), m, "")
	if m.AssignedTo != "" {
		d.registry.Touch(ctx, m.AssignedTo)
	}
	return m, nil
}

// auditRecord is one immutable entry in the missions log stream.
type auditRecord struct {
	Event      string                 `json:"event"`
	Mission    string                 `json:"mission"`
	Type       string                 `json:"type"`
	Capability string                 `json:"capability"`
	Agent      string                 `json:"agent,omitempty"`
	Status     protocol.MissionStatus `json:"status"`
	Output     protocol.Output        `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  time.Time              `json:"ts"`
}

// audit appends an audit record. Failures are logged, never returned: the
// mission row is the source of truth.
func (d *Dispatcher) audit(ctx context.Context, event string, m protocol.Mission, detail string) {
	if d.store == nil {
		return
	}
	rec := auditRecord{
		Event:      event,
		Mission:    m.ID,
		Type:       m.Type,
		Capability: m.RequiredCapability,
		Agent:      m.AssignedTo,
		Status:     m.Status,
		Output:     m.Output,
		Error:      detail,
		Timestamp:  d.nowFunc().UTC(),
	}
	if _, err := d.store.AppendLog(ctx, protocol.StreamMissions, rec); err != nil {
		d.logger.Warn("append mission audit record", zap.String("mission", m.ID), zap.Error(err))
	}
}
