package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"ag3/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_PersistsPendingAndSignals(t *testing.T) {
	f := newFixture(t, nil, Config{})

	m := f.enqueue(t, "stripe_checkout_completed", "route")
	assert.True(t, strings.HasPrefix(m.ID, "m-"))
	assert.Equal(t, protocol.MissionPending, m.Status)
	assert.Equal(t, 1, f.queue.Depth())

	select {
	case <-f.queue.Wake():
	default:
		t.Fatal("enqueue must signal the wake channel")
	}

	stored := f.mission(t, m.ID)
	assert.Equal(t, protocol.MissionPending, stored.Status)
	assert.Equal(t, "api", stored.Source)
}

func TestEnqueue_RequiresTypeAndCapability(t *testing.T) {
	f := newFixture(t, nil, Config{})
	_, err := f.queue.Enqueue(context.Background(), protocol.MissionSpec{Type: "x"})
	assert.Error(t, err)
	assert.Zero(t, f.queue.Depth())
}

func TestComplete_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	m := f.enqueue(t, "t", "route")

	// Pending missions cannot be completed directly.
	_, err := f.queue.Complete(ctx, m.ID, protocol.MissionCompleted, nil)
	var terr *protocol.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, protocol.MissionPending, terr.From)

	e, ok := f.queue.pop()
	require.True(t, ok)
	_, err = f.queue.assign(ctx, e, "ag4")
	require.NoError(t, err)

	// assigned -> pending is rejected.
	_, err = f.queue.Complete(ctx, m.ID, protocol.MissionPending, nil)
	require.ErrorAs(t, err, &terr)

	done, err := f.queue.Complete(ctx, m.ID, protocol.MissionCompleted, protocol.Output{"status": "OK"})
	require.NoError(t, err)
	assert.Equal(t, protocol.MissionCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// completed -> failed is rejected.
	_, err = f.queue.Complete(ctx, m.ID, protocol.MissionFailed, nil)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, protocol.MissionCompleted, terr.From)

	_, err = f.queue.Complete(ctx, "m-404", protocol.MissionCompleted, nil)
	var nf *protocol.MissionNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestClaim_OldestMatchingAcrossParked(t *testing.T) {
	f := newFixture(t, nil, Config{})
	first := f.enqueue(t, "a", "deploy")
	second := f.enqueue(t, "b", "route")
	third := f.enqueue(t, "c", "deploy")

	// Park the oldest deploy mission; it must still be the first claimed.
	e, ok := f.queue.pop()
	require.True(t, ok)
	require.Equal(t, first.ID, e.mission.ID)
	f.queue.park(e)

	got, ok := f.queue.claim([]string{"deploy"})
	require.True(t, ok)
	assert.Equal(t, first.ID, got.mission.ID)

	got, ok = f.queue.claim([]string{"deploy", "route"})
	require.True(t, ok)
	assert.Equal(t, second.ID, got.mission.ID)

	got, ok = f.queue.claim([]string{"deploy"})
	require.True(t, ok)
	assert.Equal(t, third.ID, got.mission.ID)

	_, ok = f.queue.claim([]string{"deploy"})
	assert.False(t, ok)
}

func TestRestore_RequeuesPendingAndFailsInterrupted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	for i, status := range []protocol.MissionStatus{protocol.MissionPending, protocol.MissionAssigned, protocol.MissionPending} {
		m := protocol.Mission{
			ID: fmt.Sprintf("m-old-%d", i), Type: "t", RequiredCapability: "route",
			Status: protocol.MissionPending, CreatedAt: created.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, f.store.InsertMission(ctx, m))
		if status == protocol.MissionAssigned {
			at := created
			m.Status, m.AssignedTo, m.AssignedAt = protocol.MissionAssigned, "ag4", &at
			require.NoError(t, f.store.UpdateMission(ctx, m, protocol.MissionPending))
		}
	}

	require.NoError(t, f.d.Restore(ctx))

	pending := f.queue.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "m-old-0", pending[0].ID)
	assert.Equal(t, "m-old-2", pending[1].ID)

	interrupted := f.mission(t, "m-old-1")
	assert.Equal(t, protocol.MissionFailed, interrupted.Status)
	assert.Equal(t, "interrupted by restart", interrupted.Output["error"])

	next := f.enqueue(t, "t", "route")
	assert.True(t, strings.HasSuffix(next.ID, "-4"), "id counter continues after restored missions: %s", next.ID)
}
