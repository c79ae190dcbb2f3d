package dispatcher

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"
)

// entry is a pending mission held in memory.
type entry struct {
	seq     uint64
	mission protocol.Mission
}

// Queue is the MissionQueue: an ordered list of pending missions plus the
// set of assigned missions awaiting a result. Every status change is
// persisted before it becomes visible in memory.
type Queue struct {
	store *store.Store

	mu       sync.Mutex
	fifo     []*entry                    // pending, dispatch order
	parked   []*entry                    // pending, no capable agent yet
	assigned map[string]protocol.Mission // assigned, awaiting a result
	seq      uint64                      // in-memory enqueue order

	counter atomic.Int64 // mission id suffix
	wake    chan struct{}

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewQueue creates an empty Queue persisting to st.
func NewQueue(st *store.Store) *Queue {
	return &Queue{
		store:    st,
		assigned: make(map[string]protocol.Mission),
		wake:     make(chan struct{}, 1),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (q *Queue) SetNowFunc(fn func() time.Time) {
	q.nowFunc = fn
}

func (q *Queue) now() time.Time {
	return q.nowFunc().UTC()
}

// Wake returns the channel signalled after every enqueue or unpark.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) nextID() string {
	return fmt.Sprintf("m-%d-%d", q.now().UnixMilli(), q.counter.Add(1))
}

// Enqueue creates a Pending mission from spec, persists it and appends it
// to the queue. It never waits for dispatch.
func (q *Queue) Enqueue(ctx context.Context, spec protocol.MissionSpec) (protocol.Mission, error) {
	if spec.Type == "" || spec.RequiredCapability == "" {
		return protocol.Mission{}, fmt.Errorf("enqueue: mission type and capability are required: %w", protocol.ErrInvalidRequest)
	}

	m := protocol.Mission{
		ID:                 q.nextID(),
		Type:               spec.Type,
		RequiredCapability: spec.RequiredCapability,
		Payload:            spec.Payload,
		Status:             protocol.MissionPending,
		Source:             spec.Source,
		CreatedAt:          q.now(),
	}
	if err := q.store.InsertMission(ctx, m); err != nil {
		return protocol.Mission{}, fmt.Errorf("enqueue %s: %w", m.Type, err)
	}

	q.mu.Lock()
	q.seq++
	q.fifo = append(q.fifo, &entry{seq: q.seq, mission: m})
	q.mu.Unlock()

	q.signal()
	return m, nil
}

// pop removes and returns the head of the dispatch FIFO.
func (q *Queue) pop() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fifo) == 0 {
		return nil, false
	}
	e := q.fifo[0]
	q.fifo[0] = nil
	q.fifo = q.fifo[1:]
	return e, true
}

// pushFront returns e to the head of the FIFO.
func (q *Queue) pushFront(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fifo = append([]*entry{e}, q.fifo...)
}

// park holds e aside until an agent with its capability appears.
func (q *Queue) park(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.parked = append(q.parked, e)
}

// unpark moves parked missions whose capability is now served back
// to the FIFO tail and returns how many moved.
func (q *Queue) unpark(served func(capability string) bool) int {
	q.mu.Lock()
	moved := 0
	kept := q.parked[:0]
	for _, e := range q.parked {
		if served(e.mission.RequiredCapability) {
			q.fifo = append(q.fifo, e)
			moved++
			continue
		}
		kept = append(kept, e)
	}
	clear(q.parked[len(kept):])
	q.parked = kept
	q.mu.Unlock()

	if moved > 0 {
		q.signal()
	}
	return moved
}

// claim removes the oldest pending mission, parked or not, whose capability
// is in capabilities.
func (q *Queue) claim(capabilities []string) (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *entry
	var from *[]*entry
	for _, list := range []*[]*entry{&q.fifo, &q.parked} {
		for _, e := range *list {
			if !slices.Contains(capabilities, e.mission.RequiredCapability) {
				continue
			}
			if best == nil || e.seq < best.seq {
				best, from = e, list
			}
		}
	}
	if best == nil {
		return nil, false
	}
	*from = slices.DeleteFunc(*from, func(e *entry) bool { return e == best })
	return best, true
}

// assign moves e Pending -> Assigned to agent. On failure e is unchanged
// and the caller still owns it.
func (q *Queue) assign(ctx context.Context, e *entry, agent string) (protocol.Mission, error) {
	m := e.mission
	if !m.Status.CanTransitionTo(protocol.MissionAssigned) {
		return m, &protocol.InvalidTransitionError{MissionID: m.ID, From: m.Status, To: protocol.MissionAssigned}
	}
	now := q.now()
	m.Status = protocol.MissionAssigned
	m.AssignedTo = agent
	m.AssignedAt = &now
	if err := q.store.UpdateMission(ctx, m, protocol.MissionPending); err != nil {
		return e.mission, fmt.Errorf("assign %s: %w", m.ID, err)
	}

	q.mu.Lock()
	q.assigned[m.ID] = m
	q.mu.Unlock()
	return m, nil
}

// Complete records the result of an assigned mission. status must be
// completed or failed; anything else is an InvalidTransitionError, as is a
// mission that already finished. Unknown ids yield MissionNotFoundError.
func (q *Queue) Complete(ctx context.Context, id string, status protocol.MissionStatus, output protocol.Output) (protocol.Mission, error) {
	q.mu.Lock()
	m, ok := q.assigned[id]
	q.mu.Unlock()
	if !ok {
		stored, err := q.store.GetMission(ctx, id)
		if err != nil {
			return protocol.Mission{}, err
		}
		return stored, &protocol.InvalidTransitionError{MissionID: id, From: stored.Status, To: status}
	}
	if !status.Terminal() || !m.Status.CanTransitionTo(status) {
		return m, &protocol.InvalidTransitionError{MissionID: id, From: m.Status, To: status}
	}

	now := q.now()
	next := m
	next.Status = status
	next.CompletedAt = &now
	next.Output = output
	if err := q.store.UpdateMission(ctx, next, protocol.MissionAssigned); err != nil {
		return m, fmt.Errorf("complete %s: %w", id, err)
	}

	q.mu.Lock()
	delete(q.assigned, id)
	q.mu.Unlock()
	return next, nil
}

// Depth returns the number of missions waiting in the dispatch FIFO.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

// Parked returns the number of pending missions without a capable agent.
func (q *Queue) Parked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.parked)
}

// Assigned returns the number of missions awaiting a result.
func (q *Queue) Assigned() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.assigned)
}

// Pending returns a snapshot of pending missions in enqueue order.
func (q *Queue) Pending() []protocol.Mission {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*entry, 0, len(q.fifo)+len(q.parked))
	all = append(all, q.fifo...)
	all = append(all, q.parked...)
	slices.SortFunc(all, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]protocol.Mission, len(all))
	for i, e := range all {
		out[i] = e.mission
	}
	return out
}

// restore reloads persisted missions after a restart. Pending missions are
// queued in creation order. Missions still assigned were interrupted; they
// are marked failed and returned.
func (q *Queue) restore(ctx context.Context) (pending int, interrupted []protocol.Mission, err error) {
	total, err := q.store.CountMissions(ctx)
	if err != nil {
		return 0, nil, err
	}
	q.counter.Store(total)

	stored, err := q.store.ListMissions(ctx, store.MissionFilter{Status: protocol.MissionPending})
	if err != nil {
		return 0, nil, err
	}
	q.mu.Lock()
	for _, m := range stored {
		q.seq++
		q.fifo = append(q.fifo, &entry{seq: q.seq, mission: m})
	}
	q.mu.Unlock()

	stale, err := q.store.ListMissions(ctx, store.MissionFilter{Status: protocol.MissionAssigned})
	if err != nil {
		return len(stored), nil, err
	}
	for _, m := range stale {
		now := q.now()
		m.Status = protocol.MissionFailed
		m.CompletedAt = &now
		m.Output = protocol.Output{"error": "interrupted by restart", "agent": m.AssignedTo}
		if err := q.store.UpdateMission(ctx, m, protocol.MissionAssigned); err != nil {
			return len(stored), interrupted, err
		}
		interrupted = append(interrupted, m)
	}

	if len(stored) > 0 {
		q.signal()
	}
	return len(stored), interrupted, nil
}
