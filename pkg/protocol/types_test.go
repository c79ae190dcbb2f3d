package protocol_test

import (
	"testing"
	"time"

	"ag3/pkg/protocol"

	"github.com/stretchr/testify/assert"
)

func TestMissionStatusTransitions(t *testing.T) {
	t.Parallel()

	all := []protocol.MissionStatus{
		protocol.MissionPending,
		protocol.MissionAssigned,
		protocol.MissionCompleted,
		protocol.MissionFailed,
	}
	allowed := map[[2]protocol.MissionStatus]bool{
		{protocol.MissionPending, protocol.MissionAssigned}:   true,
		{protocol.MissionAssigned, protocol.MissionCompleted}: true,
		{protocol.MissionAssigned, protocol.MissionFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]protocol.MissionStatus{from, to}]
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestMissionStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, protocol.MissionPending.Terminal())
	assert.False(t, protocol.MissionAssigned.Terminal())
	assert.True(t, protocol.MissionCompleted.Terminal())
	assert.True(t, protocol.MissionFailed.Terminal())
	assert.False(t, protocol.MissionStatus("bogus").Valid())
}

func TestCycleStateRollDaily(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	st := protocol.CycleState{DailyCounter: 5, DailyCounterDate: protocol.DateKey(day1)}
	st.RollDaily(day1)
	assert.Equal(t, 5, st.DailyCounter, "same day keeps counter")

	st.RollDaily(day2)
	assert.Equal(t, 0, st.DailyCounter, "new day resets counter")
	assert.Equal(t, "2026-03-02", st.DailyCounterDate)
}

func TestAgentHasCapability(t *testing.T) {
	t.Parallel()

	a := protocol.Agent{Name: "ag41", Capabilities: []string{"build", "deploy"}}
	assert.True(t, a.HasCapability("deploy"))
	assert.False(t, a.HasCapability("route"))
}
