package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpNext_CheckoutMissionCompletesOnCommander(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ctx := context.Background()

	m, err := f.queue.Enqueue(ctx, protocol.MissionSpec{
		Type:               "stripe_checkout_completed",
		RequiredCapability: "route",
		Payload:            map[string]any{"eventId": "evt_1"},
		Source:             "event:" + protocol.EventCheckoutCompleted,
	})
	require.NoError(t, err)

	f.d.PumpNext(ctx)

	got := f.mission(t, m.ID)
	assert.Equal(t, protocol.MissionCompleted, got.Status)
	assert.Equal(t, "ag4", got.AssignedTo)
	assert.Equal(t, "ag4", got.Output["agent"])
	assert.Equal(t, "OK", got.Output["status"])
	assert.Equal(t, "stripe_checkout_completed", got.Output["mission"])
	require.NotNil(t, got.AssignedAt)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, f.d.InFlight())

	entries, err := f.store.ReadLog(ctx, store.LogQuery{Stream: protocol.StreamMissions})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Payload, `"event":"completed"`)
}

// blockingInvoker holds every invocation until release is closed and
// records invocation order and concurrency.
type blockingInvoker struct {
	release  chan struct{}
	started  chan string
	mu       sync.Mutex
	order    []string
	active   atomic.Int32
	maxSeen  atomic.Int32
	assigned func() int
	maxAssig atomic.Int32
}

func (b *blockingInvoker) Invoke(ctx context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		cur := b.maxSeen.Load()
		if n <= cur || b.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if b.assigned != nil {
		if a := int32(b.assigned()); a > b.maxAssig.Load() {
			b.maxAssig.Store(a)
		}
	}

	b.mu.Lock()
	b.order = append(b.order, m.ID)
	b.mu.Unlock()

	select {
	case b.started <- m.ID:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return protocol.Output{"agent": agent.Name, "status": "OK"}, nil
}

func TestPumpNext_ConcurrentEnqueueDuringDrain(t *testing.T) {
	ctx := context.Background()
	inv := &blockingInvoker{release: make(chan struct{}), started: make(chan string, 1)}
	f := newFixture(t, inv, Config{Timeout: 5 * time.Second})
	inv.assigned = func() int {
		ms, err := f.store.ListMissions(context.Background(), store.MissionFilter{Status: protocol.MissionAssigned})
		if err != nil {
			return -1
		}
		return len(ms)
	}

	first := f.enqueue(t, "first", "route")

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		f.d.PumpNext(ctx)
	}()
	require.Equal(t, first.ID, <-inv.started)
	assert.True(t, f.d.InFlight())

	// Enqueue more while the first mission is executing; concurrent pumps
	// must return immediately without starting a second drain.
	want := []string{first.ID}
	for i := 0; i < 5; i++ {
		m := f.enqueue(t, "next", "route")
		want = append(want, m.ID)
		f.d.PumpNext(ctx)
	}

	close(inv.release)
	<-drained

	for _, id := range want {
		assert.Equal(t, protocol.MissionCompleted, f.mission(t, id).Status, id)
	}
	inv.mu.Lock()
	assert.Equal(t, want, inv.order, "dispatch order must be FIFO")
	inv.mu.Unlock()
	assert.Equal(t, int32(1), inv.maxSeen.Load(), "never more than one invocation at a time")
	assert.Equal(t, int32(1), inv.maxAssig.Load(), "never more than one assigned mission at a time")
	assert.Zero(t, f.queue.Depth())
}

func TestDispatch_FailureIsRecordedAndNotRetried(t *testing.T) {
	ctx := context.Background()
	calls := map[string]int{}
	var mu sync.Mutex
	inv := InvokerFunc(func(_ context.Context, agent protocol.Agent, m protocol.Mission) (protocol.Output, error) {
		mu.Lock()
		calls[m.ID]++
		mu.Unlock()
		if m.Type == "broken" {
			return nil, errors.New("agent exploded")
		}
		return protocol.Output{"agent": agent.Name, "status": "OK"}, nil
	})
	f := newFixture(t, inv, Config{})

	bad := f.enqueue(t, "broken", "route")
	good := f.enqueue(t, "fine", "route")
	f.d.PumpNext(ctx)

	failed := f.mission(t, bad.ID)
	assert.Equal(t, protocol.MissionFailed, failed.Status)
	assert.Contains(t, failed.Output["error"], "agent exploded")
	assert.Equal(t, protocol.MissionCompleted, f.mission(t, good.ID).Status)

	f.d.PumpNext(ctx)
	mu.Lock()
	assert.Equal(t, 1, calls[bad.ID], "failed missions are never retried")
	mu.Unlock()
}

func TestDispatch_PanicAndTimeoutFailTheMission(t *testing.T) {
	ctx := context.Background()
	inv := InvokerFunc(func(ictx context.Context, _ protocol.Agent, m protocol.Mission) (protocol.Output, error) {
		switch m.Type {
		case "panics":
			panic("boom")
		case "hangs":
			<-ictx.Done()
			return nil, ictx.Err()
		}
		return protocol.Output{"status": "OK"}, nil
	})
	f := newFixture(t, inv, Config{Timeout: 50 * time.Millisecond})

	p := f.enqueue(t, "panics", "route")
	h := f.enqueue(t, "hangs", "route")
	ok := f.enqueue(t, "ok", "route")
	f.d.PumpNext(ctx)

	assert.Equal(t, protocol.MissionFailed, f.mission(t, p.ID).Status)
	assert.Contains(t, f.mission(t, p.ID).Output["error"], "panic: boom")
	assert.Equal(t, protocol.MissionFailed, f.mission(t, h.ID).Status)
	assert.Contains(t, f.mission(t, h.ID).Output["error"], "deadline exceeded")
	assert.Equal(t, protocol.MissionCompleted, f.mission(t, ok.ID).Status)
}

func TestUnroutable_ParkedUntilAgentRegisters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})

	m := f.enqueue(t, "deploy_site", "deploy")
	f.d.PumpNext(ctx)

	assert.Equal(t, protocol.MissionPending, f.mission(t, m.ID).Status)
	assert.Equal(t, 1, f.queue.Parked())
	assert.Zero(t, f.queue.Depth())

	entries, err := f.store.ReadLog(ctx, store.LogQuery{Stream: protocol.StreamMissions})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Payload, `"event":"unroutable"`)

	// Registering an unrelated capability does not unpark it.
	_, err = f.registry.Register(ctx, "ag21", "analyst", []string{"analysis"}, "")
	require.NoError(t, err)
	assert.Zero(t, f.d.Unpark([]string{"analysis"}))

	_, err = f.registry.Register(ctx, "ag41", "builder", []string{"deploy"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.d.Unpark([]string{"deploy"}))

	f.d.PumpNext(ctx)
	got := f.mission(t, m.ID)
	assert.Equal(t, protocol.MissionCompleted, got.Status)
	assert.Equal(t, "ag41", got.AssignedTo)
}

func TestPollNextAndReportResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	m := f.enqueue(t, "reply_followup", "marketing")

	_, err := f.d.PollNext(ctx, "ghost", []string{"marketing"})
	var uerr *protocol.UnknownAgentError
	require.ErrorAs(t, err, &uerr)

	none, err := f.d.PollNext(ctx, "ag4", []string{"deploy"})
	require.NoError(t, err)
	assert.Nil(t, none)

	got, err := f.d.PollNext(ctx, "ag4", []string{"marketing"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, protocol.MissionAssigned, got.Status)
	assert.Equal(t, "ag4", got.AssignedTo)
	assert.Zero(t, f.queue.Depth())

	done, err := f.d.ReportResult(ctx, m.ID, protocol.MissionCompleted, protocol.Output{"sent": true})
	require.NoError(t, err)
	assert.Equal(t, protocol.MissionCompleted, done.Status)

	_, err = f.d.ReportResult(ctx, m.ID, protocol.MissionFailed, nil)
	var terr *protocol.InvalidTransitionError
	assert.ErrorAs(t, err, &terr)

	_, err = f.d.ReportResult(ctx, "m-404", protocol.MissionCompleted, nil)
	var nf *protocol.MissionNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestPollNext_DefaultsToAdvertisedCapabilities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.enqueue(t, "render", "video")
	m := f.enqueue(t, "reply_followup", "marketing")

	got, err := f.d.PollNext(ctx, "ag4", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, 1, f.queue.Depth())
}

func TestRun_DrainsOnWakeAndStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, Config{FallbackPollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	m := f.enqueue(t, "stripe_checkout_completed", "route")
	waitFor(t, func() bool {
		got, err := f.store.GetMission(context.Background(), m.ID)
		return err == nil && got.Status == protocol.MissionCompleted
	}, 2*time.Second)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
