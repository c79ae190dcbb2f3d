package inbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ag3/pkg/inbox"
	"ag3/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitFor polls condition every tick until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

type recorder struct {
	mu       sync.Mutex
	events   []protocol.Event
	missions []protocol.MissionSpec
	fail     bool
}

func (r *recorder) HandleEvent(_ context.Context, ev protocol.Event) (protocol.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return protocol.IngestResult{}, errors.New("store offline")
	}
	r.events = append(r.events, ev)
	return protocol.IngestResult{Accepted: true}, nil
}

func (r *recorder) Enqueue(_ context.Context, spec protocol.MissionSpec) (protocol.EnqueueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missions = append(r.missions, spec)
	return protocol.EnqueueResult{Mission: protocol.Mission{ID: "m-1", Type: spec.Type}}, nil
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), len(r.missions)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{inbox.ProcessedDir, inbox.FailedDir} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o700))
	}
	return dir
}

func TestDecode_Formats(t *testing.T) {
	cases := map[string]string{
		"a.yaml": "kind: event\nid: evt_1\ntype: checkout.session.completed\npayload:\n  amount: 5\n",
		"b.json": `{"kind":"event","id":"evt_1","type":"checkout.session.completed","payload":{"amount":5}}`,
		"c.toml": "kind = \"event\"\nid = \"evt_1\"\ntype = \"checkout.session.completed\"\n[payload]\namount = 5\n",
	}
	for name, body := range cases {
		it, err := inbox.Decode(name, []byte(body))
		require.NoError(t, err, name)
		assert.Equal(t, inbox.KindEvent, it.Kind, name)
		assert.Equal(t, "evt_1", it.ID, name)
		assert.Contains(t, it.Payload, "amount", name)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"no-kind.yaml":    "id: evt_1\ntype: x\n",
		"no-cap.yaml":     "kind: mission\ntype: report\n",
		"no-id.json":      `{"kind":"event","type":"x"}`,
		"unknown.json":    `{"kind":"event","id":"1","type":"x","extra":true}`,
		"bad.toml":        "kind = ",
		"unsupported.txt": "kind: event",
	}
	for name, body := range cases {
		_, err := inbox.Decode(name, []byte(body))
		assert.Error(t, err, name)
	}
}

func TestScan_MovesFiles(t *testing.T) {
	dir := setup(t)
	rec := &recorder{}
	w := inbox.New(dir, rec, 0, zaptest.NewLogger(t))

	writeFile(t, dir, "01-event.yaml", "kind: event\nid: evt_1\ntype: checkout.session.completed\n")
	writeFile(t, dir, "02-mission.json", `{"kind":"mission","type":"weekly_report","capability":"analysis"}`)
	writeFile(t, dir, "03-broken.yaml", "kind: [\n")
	writeFile(t, dir, ".04-partial.yaml", "kind: event\n")
	writeFile(t, dir, "notes.txt", "ignored")

	assert.Equal(t, 2, w.Scan(context.Background()))

	events, missions := rec.counts()
	assert.Equal(t, 1, events)
	require.Equal(t, 1, missions)
	assert.Equal(t, "inbox", rec.missions[0].Source)
	assert.Equal(t, "analysis", rec.missions[0].RequiredCapability)

	assert.FileExists(t, filepath.Join(dir, inbox.ProcessedDir, "01-event.yaml"))
	assert.FileExists(t, filepath.Join(dir, inbox.ProcessedDir, "02-mission.json"))
	assert.FileExists(t, filepath.Join(dir, inbox.FailedDir, "03-broken.yaml"))
	assert.FileExists(t, filepath.Join(dir, ".04-partial.yaml"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestScan_HandlerErrorMovesToFailed(t *testing.T) {
	dir := setup(t)
	w := inbox.New(dir, &recorder{fail: true}, 0, nil)
	writeFile(t, dir, "evt.yaml", "kind: event\nid: evt_1\ntype: x\n")

	assert.Zero(t, w.Scan(context.Background()))
	assert.FileExists(t, filepath.Join(dir, inbox.FailedDir, "evt.yaml"))
}

func TestRun_PicksUpNewFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	rec := &recorder{}
	w := inbox.New(dir, rec, 50*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, inbox.ProcessedDir))
		return err == nil
	}, 2*time.Second)

	tmp := filepath.Join(dir, ".m.yaml")
	require.NoError(t, os.WriteFile(tmp, []byte("kind: mission\ntype: t\ncapability: route\n"), 0o600))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "m.yaml")))

	waitFor(t, func() bool {
		_, missions := rec.counts()
		return missions == 1
	}, 2*time.Second)

	cancel()
	require.NoError(t, <-done)
	assert.FileExists(t, filepath.Join(dir, inbox.ProcessedDir, "m.yaml"))
}
