package protocol

// Directory and path constants used throughout ag3.
const (
	// HomeDir is the user-level state directory (e.g., ~/.ag3).
	HomeDir = ".ag3"

	// InboxDir is the drop directory watched for event and mission files.
	InboxDir = "inbox"
)

// Log stream names for append-only records.
const (
	StreamMissions = "missions"
	StreamOutbound = "outbound"
	StreamReplies  = "replies"
	StreamLaunch   = "launch"
	StreamCycles   = "cycles"
)

// Record names for whole-record documents.
const (
	RecordLaunchState     = "launch/state"
	RecordLaunchChecklist = "launch/checklist"
	RecordLaunchGaps      = "launch/gaps"
	RecordGrowthState     = "growth/state"
	RecordGrowthDecisions = "growth/decisions"
)

// PillarRecord returns the record name holding the deployment state of
// pillar id.
func PillarRecord(id string) string {
	return "pillar/" + id
}

// EventTallyRecord returns the record name holding the EventTally for
// eventType.
func EventTallyRecord(eventType string) string {
	return "events/" + eventType
}

// CycleRecord returns the record name holding the CycleState for kind.
func CycleRecord(kind CycleKind) string {
	return "cycle/" + string(kind)
}

// EventCheckoutCompleted is the notification type for a completed checkout.
const EventCheckoutCompleted = "checkout.session.completed"
