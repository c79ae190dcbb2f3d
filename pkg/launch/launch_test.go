package launch_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ag3/pkg/launch"
	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func checklist(passed map[string]bool, order ...string) launch.Checklist {
	var cl launch.Checklist
	for _, name := range order {
		cl.Checks = append(cl.Checks, launch.Check{Name: name, Passed: passed[name]})
	}
	return cl
}

func TestState_DefaultsToReady(t *testing.T) {
	m := launch.NewMachine(newStore(t), nil)
	st, err := m.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.LaunchReady, st.Status)
	assert.False(t, m.Launched(context.Background()))
}

func TestApply_BlockedThenLaunchedThenTerminal(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	m := launch.NewMachine(st, zaptest.NewLogger(t))

	blocked, err := m.Apply(ctx, checklist(map[string]bool{"ag3_online": true},
		"ag3_online", "webhook_live", "payment_flow_verified"))
	require.NoError(t, err)
	assert.Equal(t, protocol.LaunchBlocked, blocked.Status)
	assert.Equal(t, []string{"webhook_live", "payment_flow_verified"}, blocked.Gaps, "gaps keep checklist order")
	assert.True(t, blocked.Changed)

	all := map[string]bool{"ag3_online": true, "webhook_live": true}
	launched, err := m.Apply(ctx, checklist(all, "ag3_online", "webhook_live"))
	require.NoError(t, err)
	assert.Equal(t, protocol.LaunchBlocked, launched.Previous)
	assert.Equal(t, protocol.LaunchLaunched, launched.Status)
	assert.True(t, launched.Changed)

	before, err := m.State(ctx)
	require.NoError(t, err)

	// A later failing audit cannot leave LAUNCHED.
	again, err := m.Apply(ctx, checklist(nil, "ag3_online"))
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, protocol.LaunchLaunched, again.Status)

	after, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "terminal state must not be rewritten")
	assert.True(t, m.Launched(ctx))

	n, err := st.CountLog(ctx, protocol.StreamLaunch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "no audit record once launched")

	var gaps struct {
		Gaps []string `json:"gaps"`
	}
	found, err := st.GetRecord(ctx, protocol.RecordLaunchGaps, &gaps)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, gaps.Gaps)
}

func TestApply_ConcurrentAuditsNeverLeaveLaunched(t *testing.T) {
	ctx := context.Background()
	m := launch.NewMachine(newStore(t), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(pass bool) {
			defer wg.Done()
			cl := checklist(map[string]bool{"x": pass}, "x")
			_, err := m.Apply(ctx, cl)
			assert.NoError(t, err)
		}(i == 3)
	}
	wg.Wait()

	st, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.LaunchLaunched, st.Status)
}

func TestAuditor(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	listening := false

	a := launch.NewAuditor([]launch.Probe{
		launch.OnlineProbe(),
		launch.FuncProbe(launch.ProbeWebhookLive, "socket not listening", func() bool { return listening }),
		launch.PaymentProbe(st, false),
	}, map[string]bool{"stripe_live": true, "legal_pages": false})

	cl := a.Audit(ctx)
	names := make([]string, len(cl.Checks))
	for i, c := range cl.Checks {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"ag3_online", "webhook_live", "payment_flow_verified", "legal_pages", "stripe_live"}, names)
	assert.Equal(t, []string{"webhook_live", "payment_flow_verified", "legal_pages"}, cl.Gaps())
	assert.Equal(t, "socket not listening", cl.Checks[1].Detail)
	assert.False(t, cl.Timestamp.IsZero())

	listening = true
	_, err := st.BumpEventTally(ctx, protocol.EventCheckoutCompleted, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"legal_pages"}, a.Audit(ctx).Gaps())
}

func TestPaymentFlowVerified_SurvivesSeenPrune(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	_, err := st.MarkEventSeen(ctx, "evt_1", protocol.EventCheckoutCompleted)
	require.NoError(t, err)
	_, err = st.BumpEventTally(ctx, protocol.EventCheckoutCompleted, "evt_1")
	require.NoError(t, err)

	_, err = st.PruneSeenEvents(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	ok, detail := launch.PaymentProbe(st, false).Check(ctx)
	assert.True(t, ok, detail)
}

func TestPaymentProbe_Forced(t *testing.T) {
	ok, _ := launch.PaymentProbe(newStore(t), true).Check(context.Background())
	assert.True(t, ok)
}

func TestApply_UsesClock(t *testing.T) {
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m := launch.NewMachine(newStore(t), nil)
	m.SetNowFunc(func() time.Time { return fixed })

	_, err := m.Apply(context.Background(), checklist(nil, "x"))
	require.NoError(t, err)
	st, err := m.State(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Timestamp.Equal(fixed))
}
