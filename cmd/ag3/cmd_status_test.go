package main

import (
	"bytes"
	"testing"
	"time"

	"ag3/pkg/protocol"

	"github.com/stretchr/testify/assert"
)

func TestRenderStatus_Stopped(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, newStatusTheme(false), daemonStopped, 0, nil)
	assert.Equal(t, "daemon     stopped\n", buf.String())
}

func TestRenderStatus_StalePointsAtStop(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, newStatusTheme(false), daemonStale, 42, nil)
	assert.Contains(t, buf.String(), "stale (PID 42 is gone; run ag3 stop)")
}

func TestRenderStatus_Running(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	h := &protocol.Health{
		QueueDepth:   3,
		Parked:       1,
		InFlight:     true,
		Agents:       2,
		StaleAgents:  []string{"ag7"},
		LaunchStatus: protocol.LaunchBlocked,
		SeenEvents:   12,
		Cycles: map[protocol.CycleKind]protocol.CycleState{
			protocol.CycleOutboundLead: {CycleCount: 4, LastRunAt: last, DailyCounter: 5, DailyCounterDate: "2026-03-01"},
			protocol.CycleGrowth:       {},
		},
	}

	var buf bytes.Buffer
	renderStatus(&buf, newStatusTheme(false), daemonRunning, 100, h)
	out := buf.String()

	assert.Contains(t, out, "daemon     running (PID 100)")
	assert.Contains(t, out, "launch     BLOCKED")
	assert.Contains(t, out, "queue      3 pending, 1 parked, dispatching")
	assert.Contains(t, out, "agents     2 registered (stale: ag7)")
	assert.Contains(t, out, "seen       12 events")
	assert.Contains(t, out, "growth          runs 0    last never")
	assert.Contains(t, out, "outbound-lead   runs 4    last 2026-03-01 09:00:00  today 5 (2026-03-01)")
	// Cycles are listed in name order.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("growth")), bytes.Index(buf.Bytes(), []byte("outbound-lead")))
}

func TestIsTerminal_Buffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
