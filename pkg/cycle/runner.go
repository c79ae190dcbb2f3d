// Package cycle runs the self-triggered mission producers on fixed
// intervals.
//
// Each cycle runs once at start and then every interval on its own
// goroutine. A cycle never overlaps itself: a tick that arrives while the
// previous run is still active is skipped. Errors and panics inside a run
// are logged and the next tick fires as usual.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// ErrCycleBusy is returned by Trigger when the cycle is already running.
var ErrCycleBusy = errors.New("cycle already running")

// ErrUnknownCycle is returned by Trigger for a kind that is not registered.
var ErrUnknownCycle = errors.New("unknown cycle")

// Cycle is one scheduled mission producer.
type Cycle interface {
	Kind() protocol.CycleKind
	Interval() time.Duration
	RunOnce(ctx context.Context) (protocol.CycleResult, error)
}

// Enqueuer accepts new missions.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec protocol.MissionSpec) (protocol.Mission, error)
}

// LaunchGate reports whether launch has happened.
type LaunchGate interface {
	Launched(ctx context.Context) bool
}

type job struct {
	cycle   Cycle
	running atomic.Bool
}

// Runner is the ScheduledCycleRunner.
type Runner struct {
	store  *store.Store
	logger *zap.Logger
	jobs   []*job
	byKind map[protocol.CycleKind]*job

	jobWg sync.WaitGroup // tracks in-flight runs

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewRunner creates a Runner for cycles. Registering two cycles of the
// same kind panics.
func NewRunner(st *store.Store, logger *zap.Logger, cycles ...Cycle) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:   st,
		logger:  logger.Named("cycle"),
		byKind:  make(map[protocol.CycleKind]*job, len(cycles)),
		nowFunc: time.Now,
	}
	for _, c := range cycles {
		if _, dup := r.byKind[c.Kind()]; dup {
			panic(fmt.Sprintf("cycle: duplicate kind %s", c.Kind()))
		}
		j := &job{cycle: c}
		r.jobs = append(r.jobs, j)
		r.byKind[c.Kind()] = j
	}
	return r
}

// SetNowFunc overrides the clock (tests only).
func (r *Runner) SetNowFunc(fn func() time.Time) {
	r.nowFunc = fn
}

// Kinds returns the registered cycle kinds in registration order.
func (r *Runner) Kinds() []protocol.CycleKind {
	out := make([]protocol.CycleKind, len(r.jobs))
	for i, j := range r.jobs {
		out[i] = j.cycle.Kind()
	}
	return out
}

// Running reports whether kind has a run in progress.
func (r *Runner) Running(kind protocol.CycleKind) bool {
	j, ok := r.byKind[kind]
	return ok && j.running.Load()
}

// Run starts every cycle immediately and then on its interval, and blocks
// until ctx is cancelled and in-flight runs have returned.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, j := range r.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.schedule(ctx, j)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	r.jobWg.Wait()
	return nil
}

func (r *Runner) schedule(ctx context.Context, j *job) {
	interval := j.cycle.Interval()
	r.logger.Info("cycle scheduled",
		zap.String("kind", string(j.cycle.Kind())), zap.Duration("interval", interval))

	r.tick(ctx, j)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, j)
		}
	}
}

// tick starts a run in the background unless one is active.
func (r *Runner) tick(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		r.logger.Info("cycle still running, tick skipped", zap.String("kind", string(j.cycle.Kind())))
		return
	}
	r.jobWg.Add(1)
	go func() {
		defer r.jobWg.Done()
		defer j.running.Store(false)
		_, _ = r.runGuarded(ctx, j)
	}()
}

// Trigger runs kind once, now, through the same overlap guard.
func (r *Runner) Trigger(ctx context.Context, kind protocol.CycleKind) (protocol.CycleResult, error) {
	j, ok := r.byKind[kind]
	if !ok {
		return protocol.CycleResult{}, fmt.Errorf("%w: %s", ErrUnknownCycle, kind)
	}
	if !j.running.CompareAndSwap(false, true) {
		return protocol.CycleResult{Kind: kind}, fmt.Errorf("%s: %w", kind, ErrCycleBusy)
	}
	defer j.running.Store(false)
	return r.runGuarded(ctx, j)
}

// cycleLogEntry is one record in the cycles log stream.
type cycleLogEntry struct {
	Kind      protocol.CycleKind `json:"kind"`
	Timestamp time.Time          `json:"ts"`
	Actions   int                `json:"actions"`
	Missions  []string           `json:"missions,omitempty"`
	Skipped   string             `json:"skipped,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// runGuarded executes one run, converting a panic into a CycleError, and
// records bookkeeping. The caller holds the job's running flag.
func (r *Runner) runGuarded(ctx context.Context, j *job) (res protocol.CycleResult, err error) {
	kind := j.cycle.Kind()
	started := r.nowFunc()

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		res, err = j.cycle.RunOnce(ctx)
	}()
	res.Kind = kind

	var cerr *protocol.CycleError
	if err != nil && !errors.As(err, &cerr) {
		err = &protocol.CycleError{Kind: kind, Err: err}
	}

	// Bookkeeping must survive shutdown cancelling ctx mid-run.
	wctx := context.WithoutCancel(ctx)
	if _, serr := store.UpdateRecord(wctx, r.store, protocol.CycleRecord(kind),
		func(cur *protocol.CycleState, _ bool) error {
			cur.CycleCount++
			cur.LastRunAt = started.UTC()
			return nil
		}); serr != nil {
		r.logger.Error("record cycle state", zap.String("kind", string(kind)), zap.Error(serr))
	}

	entry := cycleLogEntry{
		Kind: kind, Timestamp: started.UTC(), Actions: res.Actions,
		Missions: res.Missions, Skipped: res.Skipped, Detail: res.Detail,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if _, lerr := r.store.AppendLog(wctx, protocol.StreamCycles, entry); lerr != nil {
		r.logger.Warn("append cycle log", zap.String("kind", string(kind)), zap.Error(lerr))
	}

	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Time("started", started),
		zap.Duration("took", r.nowFunc().Sub(started)),
		zap.Int("actions", res.Actions),
	}
	switch {
	case err != nil:
		r.logger.Error("cycle failed", append(fields, zap.Error(err))...)
	case res.Skipped != "":
		r.logger.Info("cycle skipped", append(fields, zap.String("reason", res.Skipped))...)
	default:
		r.logger.Info("cycle complete", fields...)
	}
	return res, err
}

// States returns the persisted state of every registered cycle.
func (r *Runner) States(ctx context.Context) (map[protocol.CycleKind]protocol.CycleState, error) {
	out := make(map[protocol.CycleKind]protocol.CycleState, len(r.jobs))
	for _, j := range r.jobs {
		var st protocol.CycleState
		if _, err := r.store.GetRecord(ctx, protocol.CycleRecord(j.cycle.Kind()), &st); err != nil {
			return nil, err
		}
		out[j.cycle.Kind()] = st
	}
	return out, nil
}
