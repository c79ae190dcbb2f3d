package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/registry"
	"ag3/pkg/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitFor polls condition every tick until it returns true or timeout expires.
// This replaces time.Sleep in tests to provide proper synchronization.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

type fixture struct {
	store    *store.Store
	registry *registry.Registry
	queue    *Queue
	d        *Dispatcher
}

// newFixture wires a dispatcher over a fresh database with the default
// commander ag4 registered for route.
func newFixture(t *testing.T, inv Invoker, cfg Config) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := zaptest.NewLogger(t)
	reg := registry.New(st, nil, logger)
	_, err = reg.Register(context.Background(), "ag4", "commander", []string{"route", "marketing"}, "")
	require.NoError(t, err)

	if inv == nil {
		inv = NewLocalInvoker()
	}
	q := NewQueue(st)
	return &fixture{store: st, registry: reg, queue: q, d: New(cfg, q, reg, inv, st, logger)}
}

func (f *fixture) enqueue(t *testing.T, typ, capability string) protocol.Mission {
	t.Helper()
	m, err := f.queue.Enqueue(context.Background(), protocol.MissionSpec{
		Type: typ, RequiredCapability: capability, Source: "api",
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) mission(t *testing.T, id string) protocol.Mission {
	t.Helper()
	m, err := f.store.GetMission(context.Background(), id)
	require.NoError(t, err)
	return m
}
