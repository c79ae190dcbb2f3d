package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies a socket request or response.
type MessageType string

// Socket message types. Every request is answered with exactly one ACK.
const (
	MsgEvent     MessageType = "EVENT"
	MsgEnqueue   MessageType = "ENQUEUE"
	MsgPoll      MessageType = "POLL"
	MsgReport    MessageType = "REPORT"
	MsgRegister  MessageType = "REGISTER"
	MsgHeartbeat MessageType = "HEARTBEAT"
	MsgHealth    MessageType = "HEALTH"
	MsgCycle     MessageType = "CYCLE"
	MsgACK       MessageType = "ACK"
)

// Message is the line-delimited JSON envelope exchanged over the socket.
// Exactly one payload pointer matching Type is set.
type Message struct {
	Type      MessageType       `json:"type"`
	Event     *Event            `json:"event,omitempty"`
	Enqueue   *MissionSpec      `json:"enqueue,omitempty"`
	Poll      *PollPayload      `json:"poll,omitempty"`
	Report    *ReportPayload    `json:"report,omitempty"`
	Register  *RegisterPayload  `json:"register,omitempty"`
	Heartbeat *HeartbeatPayload `json:"heartbeat,omitempty"`
	Cycle     *CyclePayload     `json:"cycle,omitempty"`
	ACK       *ACKPayload       `json:"ack,omitempty"`
}

// PollPayload asks for the oldest pending mission matching capabilities.
type PollPayload struct {
	Agent        string   `json:"agent"`
	Capabilities []string `json:"capabilities"`
}

// ReportPayload carries an agent's result for a pulled mission.
type ReportPayload struct {
	MissionID string        `json:"mission_id"`
	Status    MissionStatus `json:"status"`
	Output    Output        `json:"output,omitempty"`
}

// RegisterPayload registers or refreshes an agent.
type RegisterPayload struct {
	Name         string   `json:"name"`
	Role         string   `json:"role,omitempty"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint,omitempty"`
}

// HeartbeatPayload refreshes an agent's last-seen time.
type HeartbeatPayload struct {
	Name string `json:"name"`
}

// CyclePayload triggers one run of a cycle kind.
type CyclePayload struct {
	Kind CycleKind `json:"kind"`
}

// ACK error codes.
const (
	CodeBadRequest        = "bad_request"
	CodeUnknownAgent      = "unknown_agent"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeBusy              = "busy"
	CodeInternal          = "internal"
)

// ACKPayload is the response to every request. Data holds the JSON encoded
// result for successful requests.
type ACKPayload struct {
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// IngestResult is the outcome of consuming one event.
type IngestResult struct {
	Accepted   bool     `json:"accepted"`
	Deduped    bool     `json:"deduped"`
	Unroutable bool     `json:"unroutable,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Mission    *Mission `json:"mission,omitempty"`
}

// EnqueueResult is the outcome of creating a mission through the API.
type EnqueueResult struct {
	Mission    Mission `json:"mission"`
	Unroutable bool    `json:"unroutable,omitempty"`
}

// CycleResult summarizes one cycle run.
type CycleResult struct {
	Kind     CycleKind `json:"kind"`
	Skipped  string    `json:"skipped,omitempty"` // reason the run was a no-op
	Actions  int       `json:"actions"`
	Missions []string  `json:"missions,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Health is the read-only introspection snapshot.
type Health struct {
	QueueDepth   int                      `json:"queue_depth"`
	Parked       int                      `json:"parked"`
	InFlight     bool                     `json:"in_flight"`
	Agents       int                      `json:"agents"`
	StaleAgents  []string                 `json:"stale_agents,omitempty"`
	LaunchStatus LaunchStatus             `json:"launch_status"`
	Cycles       map[CycleKind]CycleState `json:"cycles"`
	SeenEvents   int64                    `json:"seen_events"`
	Time         time.Time                `json:"time"`
}
