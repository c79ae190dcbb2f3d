package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ag3/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls condition every tick until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// ag3 runs one CLI invocation and returns its stdout.
func ag3(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// isolate points every ag3 path at a fresh temp home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	sock := fmt.Sprintf("/tmp/ag3-cli-%d.sock", time.Now().UnixNano())
	t.Cleanup(func() { _ = os.Remove(sock) })
	t.Setenv("AG3_HOME", home)
	t.Setenv("AG3_SOCKET_PATH", sock)
	for _, k := range []string{"AG3_PID_PATH", "AG3_DB_PATH", "AG3_CONFIG", "AG3_INBOX_DIR", "AG3_MAILDIR"} {
		t.Setenv(k, "")
	}
	return home
}

func TestVersionFlag(t *testing.T) {
	out, err := ag3(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ag3 dev"), out)
}

func TestStatusWhenStopped(t *testing.T) {
	isolate(t)
	out, err := ag3(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")

	out, err = ag3(t, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestClientCommandsNeedDaemon(t *testing.T) {
	isolate(t)
	_, err := ag3(t, "agent", "heartbeat", "ag4")
	assert.ErrorContains(t, err, "ag3 serve")
}

func TestParseObject(t *testing.T) {
	got, err := parseObject("payload", `{"to": "a@example.com", "n": 2}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"to": "a@example.com", "n": 2}, got)

	got, err = parseObject("payload", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseObject("output", "- a\n- b")
	assert.Error(t, err)
}

func TestReadEventFormats(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "evt.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("id = \"evt_t\"\ntype = \"lead.created\"\n"), 0o600))

	ev, err := readEvent(nil, tomlPath)
	require.NoError(t, err)
	assert.Equal(t, protocol.Event{ID: "evt_t", Type: "lead.created"}, ev)

	ev, err = readEvent(strings.NewReader(`{"id":"evt_s","type":"x","payload":{"a":1}}`), "-")
	require.NoError(t, err)
	assert.Equal(t, "evt_s", ev.ID)
	assert.Equal(t, map[string]any{"a": 1}, ev.Payload)
}

func TestServeAndClientRoundTrip(t *testing.T) {
	home := isolate(t)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"serve"})
		serveDone <- cmd.ExecuteContext(ctx)
	}()
	defer func() {
		cancel()
		select {
		case err := <-serveDone:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop")
		}
		assert.NoFileExists(t, filepath.Join(home, "ag3.pid"))
	}()

	waitFor(t, func() bool {
		out, err := ag3(t, "status", "--json")
		return err == nil && strings.Contains(out, `"health"`)
	}, 10*time.Second)

	_, err := ag3(t, "serve")
	assert.ErrorContains(t, err, "already running")

	evtPath := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(evtPath, []byte(
		"id: evt_cli\ntype: checkout.session.completed\npayload:\n  data:\n    object:\n      id: cs_9\n      amount_total: 4900\n"), 0o600))

	out, err := ag3(t, "event", evtPath)
	require.NoError(t, err)
	var res protocol.IngestResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Accepted)
	require.NotNil(t, res.Mission)

	waitFor(t, func() bool {
		out, err := ag3(t, "mission", "show", res.Mission.ID)
		if err != nil {
			return false
		}
		var m protocol.Mission
		return json.Unmarshal([]byte(out), &m) == nil && m.Status == protocol.MissionCompleted
	}, 10*time.Second)

	out, err = ag3(t, "event", evtPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"deduped": true`)

	out, err = ag3(t, "agent", "register", "studio", "--capability", "video", "--role", "media")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "studio"`)

	out, err = ag3(t, "agent", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ag4")
	assert.Contains(t, out, "studio")

	out, err = ag3(t, "mission", "list", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, res.Mission.ID)

	_, err = ag3(t, "mission", "list", "--status", "lost")
	assert.ErrorContains(t, err, "unknown status")

	_, err = ag3(t, "cycle", "run", "bogus")
	assert.ErrorContains(t, err, protocol.CodeNotFound)

	out, err = ag3(t, "logs", protocol.StreamMissions, "-n", "0")
	require.NoError(t, err)
	assert.Contains(t, out, res.Mission.ID)

	out, err = ag3(t, "launch", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "status:")
}
