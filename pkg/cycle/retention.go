package cycle

import (
	"context"
	"fmt"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"
)

// Retention prunes seen-event ids older than the window. A pruned id that
// is delivered again is treated as new.
type Retention struct {
	interval time.Duration
	window   time.Duration
	store    *store.Store

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewRetention creates the seen-retention cycle.
func NewRetention(interval, window time.Duration, st *store.Store) *Retention {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	return &Retention{interval: interval, window: window, store: st, nowFunc: time.Now}
}

// SetNowFunc overrides the clock (tests only).
func (r *Retention) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

func (r *Retention) Kind() protocol.CycleKind { return protocol.CycleSeenRetention }

func (r *Retention) Interval() time.Duration { return r.interval }

func (r *Retention) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	if r.window <= 0 {
		return protocol.CycleResult{Skipped: "no retention window"}, nil
	}
	n, err := r.store.PruneSeenEvents(ctx, r.nowFunc().Add(-r.window))
	if err != nil {
		return protocol.CycleResult{}, err
	}
	return protocol.CycleResult{Actions: int(n), Detail: fmt.Sprintf("pruned %d", n)}, nil
}
