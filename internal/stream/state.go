package stream

import "time"

// ToolPhase is the lifecycle phase of one tool call. Transitions are
// strictly forward: Pending -> Running -> Completed | Errored. No phase
// is ever re-entered.
type ToolPhase string

const (
	PhasePending   ToolPhase = "pending"
	PhaseRunning   ToolPhase = "running"
	PhaseCompleted ToolPhase = "completed"
	PhaseErrored   ToolPhase = "errored"
)

// Terminal reports whether the phase is final.
func (p ToolPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}

// ToolState is the per-tool-call-id state owned by the Processor. It is
// created on ToolCallStart and retained until the session ends, so
// completed and errored calls remain inspectable.
type ToolState struct {
	Phase ToolPhase

	// Name is the tool name announced on ToolCallStart.
	Name string

	// Input is the parsed structured input; nil while Pending.
	Input any

	// Output is the tool output once Completed.
	Output string

	// Err is the tool error message once Errored.
	Err string

	// StartTime is when the input parsed and the call began Running.
	StartTime time.Time

	// Duration is the Running span, set on the terminal transition.
	Duration time.Duration
}
