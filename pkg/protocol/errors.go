package protocol

import (
	"errors"
	"fmt"
)

// UnknownAgentError is returned when a heartbeat or poll names an agent that
// was never registered. No state is mutated.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.Name)
}

// MissionNotFoundError represents a mission lookup failure.
type MissionNotFoundError struct {
	MissionID string
}

func (e *MissionNotFoundError) Error() string {
	return fmt.Sprintf("mission %s not found", e.MissionID)
}

// UnroutableMissionError reports a mission that has no template or no agent
// advertising its capability. The mission, if any, stays pending.
type UnroutableMissionError struct {
	MissionID  string
	Capability string
	Reason     string
}

func (e *UnroutableMissionError) Error() string {
	if e.MissionID == "" {
		return fmt.Sprintf("unroutable: %s", e.Reason)
	}
	return fmt.Sprintf("mission %s unroutable (capability %q): %s", e.MissionID, e.Capability, e.Reason)
}

// InvalidTransitionError is returned when a status change would move a
// mission backwards or skip a state.
type InvalidTransitionError struct {
	MissionID string
	From      MissionStatus
	To        MissionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("mission %s: invalid transition %s -> %s", e.MissionID, e.From, e.To)
}

// DispatchError wraps a failed agent invocation. The mission is marked
// failed and never retried.
type DispatchError struct {
	MissionID string
	Agent     string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch mission %s to %s: %v", e.MissionID, e.Agent, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PersistenceError wraps a store read or write failure. It is fatal for the
// operation in progress only.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CycleError reports a failure inside a scheduled cycle run.
type CycleError struct {
	Kind CycleKind
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %s: %v", e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// ErrVersionConflict is returned by optimistic record updates when another
// writer committed first and retries were exhausted.
var ErrVersionConflict = errors.New("record version conflict")

// ErrInvalidRequest marks input that failed validation. Callers wrap it
// with the specific problem.
var ErrInvalidRequest = errors.New("invalid request")
