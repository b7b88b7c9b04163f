// Package emit provides observability events for workflow execution.
//
// The engine emits an event at every node boundary and checkpoint write.
// Emitters route those events to logs or OpenTelemetry spans.
package emit

// Event messages emitted by the engine.
const (
	MsgRunStart    = "run_start"
	MsgRunEnd      = "run_end"
	MsgRunError    = "run_error"
	MsgNodeStart   = "node_start"
	MsgNodeEnd     = "node_end"
	MsgNodeHalt    = "node_halt"
	MsgCheckpoint  = "checkpoint_saved"
	MsgResumeStart = "resume_start"
)

// Event is a single observability record from a workflow execution.
type Event struct {
	// SessionID identifies the conversation session being executed.
	SessionID string

	// Step is the sequential step number in the turn (1-indexed).
	// Zero for turn-level events (run_start, run_end, run_error).
	Step int

	// NodeID identifies which node the event concerns. Empty for
	// turn-level events.
	NodeID string

	// Msg names the event; see the Msg constants.
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": node execution duration
	//   - "error": error details
	//   - "checkpoint_id": checkpoint identifier
	//   - "phase": checkpoint phase
	//   - "route": routing target chosen after a node
	Meta map[string]any
}
