package protocol

import (
	"slices"
	"time"
)

// Event is an inbound notification from an external source. Identity is ID.
type Event struct {
	ID      string         `json:"id" yaml:"id" toml:"id"`
	Type    string         `json:"type" yaml:"type" toml:"type"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty" toml:"payload,omitempty"`
}

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

// Mission status constants. Transitions are strictly forward:
// pending -> assigned -> completed|failed.
const (
	MissionPending   MissionStatus = "pending"
	MissionAssigned  MissionStatus = "assigned"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionPending, MissionAssigned, MissionCompleted, MissionFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible from s.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

// CanTransitionTo reports whether s -> next is a legal mission transition.
func (s MissionStatus) CanTransitionTo(next MissionStatus) bool {
	switch s {
	case MissionPending:
		return next == MissionAssigned
	case MissionAssigned:
		return next == MissionCompleted || next == MissionFailed
	default:
		return false
	}
}

// Output is the opaque result an agent returns for a mission.
type Output map[string]any

// Mission is one unit of dispatchable work.
type Mission struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	RequiredCapability string         `json:"required_capability"`
	Payload            map[string]any `json:"payload,omitempty"`
	Status             MissionStatus  `json:"status"`
	AssignedTo         string         `json:"assigned_to,omitempty"`
	Source             string         `json:"source,omitempty"` // event:<type> | api | cycle:<kind> | inbox
	CreatedAt          time.Time      `json:"created_at"`
	AssignedAt         *time.Time     `json:"assigned_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Output             Output         `json:"output,omitempty"`
}

// MissionSpec describes a mission to be created.
type MissionSpec struct {
	Type               string         `json:"type" yaml:"type" toml:"type"`
	RequiredCapability string         `json:"required_capability" yaml:"capability" toml:"capability"`
	Payload            map[string]any `json:"payload,omitempty" yaml:"payload,omitempty" toml:"payload,omitempty"`
	Source             string         `json:"source,omitempty" yaml:"-" toml:"-"`
}

// Agent is a named worker advertising a capability set.
type Agent struct {
	Name         string    `json:"name"`
	Role         string    `json:"role,omitempty"`
	Capabilities []string  `json:"capabilities"`
	Endpoint     string    `json:"endpoint,omitempty"` // push URL for HTTP dispatch
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// HasCapability reports whether the agent advertises capability.
func (a Agent) HasCapability(capability string) bool {
	return slices.Contains(a.Capabilities, capability)
}

// CycleKind identifies a scheduled cycle.
type CycleKind string

// Cycle kinds.
const (
	CycleGrowth        CycleKind = "growth"
	CycleLaunchAudit   CycleKind = "launch-audit"
	CycleOutboundLead  CycleKind = "outbound-lead"
	CycleReplyCheck    CycleKind = "reply-check"
	CycleAutopilot     CycleKind = "autopilot"
	CycleSeenRetention CycleKind = "seen-retention"
	CyclePillarDeploy  CycleKind = "pillar-deploy"
	CycleAgentHealth   CycleKind = "agent-health"
)

// CycleState is the persisted bookkeeping for one cycle kind.
type CycleState struct {
	CycleCount       int       `json:"cycle_count"`
	LastRunAt        time.Time `json:"last_run_at"`
	DailyCounter     int       `json:"daily_counter"`
	DailyCounterDate string    `json:"daily_counter_date"` // YYYY-MM-DD
}

// DateKey formats t as the calendar date used for daily counters.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// RollDaily resets the daily counter when the stored date is not today.
func (c *CycleState) RollDaily(now time.Time) {
	today := DateKey(now)
	if c.DailyCounterDate != today {
		c.DailyCounter = 0
		c.DailyCounterDate = today
	}
}

// EventTally counts first deliveries of one event type. Unlike the seen
// set it is never pruned.
type EventTally struct {
	Count       int64     `json:"count"`
	LastEventID string    `json:"last_event_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LaunchStatus is the launch readiness state.
type LaunchStatus string

// Launch states. LaunchLaunched is terminal.
const (
	LaunchReady    LaunchStatus = "READY"
	LaunchBlocked  LaunchStatus = "BLOCKED"
	LaunchLaunched LaunchStatus = "LAUNCHED"
)

// LaunchState is the persisted launch record.
type LaunchState struct {
	Status    LaunchStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Gaps      []string     `json:"gaps,omitempty"`
}

// ReplyClass is the classification of an inbound reply.
type ReplyClass string

// Reply classifications.
const (
	ReplyInterested    ReplyClass = "INTERESTED"
	ReplyNotInterested ReplyClass = "NOT_INTERESTED"
	ReplyQuestion      ReplyClass = "QUESTION"
)

// LogEntry is one append-only record from a named stream.
type LogEntry struct {
	ID        int64     `json:"id"`
	Stream    string    `json:"stream"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
