// Package stream implements the per-event execution core of a coding
// assistant session: a closed event union, a strict per-tool-call state
// machine, doom-loop guarding, and cooperative cancellation.
package stream

// EventKind discriminates the Event union. The set is closed; the
// processor rejects unknown kinds at runtime since Go cannot enforce
// exhaustiveness at compile time.
type EventKind string

const (
	EventStart          EventKind = "start"
	EventTextDelta      EventKind = "text_delta"
	EventReasoningStart EventKind = "reasoning_start"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventReasoningEnd   EventKind = "reasoning_end"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallInput  EventKind = "tool_call_input"
	EventToolResult     EventKind = "tool_result"
	EventToolError      EventKind = "tool_error"
	EventFinish         EventKind = "finish"
	EventError          EventKind = "error"
)

// FinishReason explains why the model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
)

// Event is one atomic unit from the model stream. Kind selects which
// payload fields are meaningful; the rest stay zero.
//
// ID is an opaque, transport-assigned correlation key. It is unique
// among concurrently open tool calls within one session but not
// globally unique.
type Event struct {
	Kind EventKind `json:"kind"`

	// Text carries TextDelta and ReasoningDelta payloads.
	Text string `json:"text,omitempty"`

	// ID correlates ToolCallStart/ToolCallInput/ToolResult/ToolError.
	ID string `json:"id,omitempty"`

	// Name is the tool name on ToolCallStart.
	Name string `json:"name,omitempty"`

	// Input is the raw tool input on ToolCallInput, expected to parse
	// as JSON.
	Input string `json:"input,omitempty"`

	// Output is the tool output on ToolResult.
	Output string `json:"output,omitempty"`

	// Reason is the completion reason on Finish.
	Reason FinishReason `json:"reason,omitempty"`

	// Err carries ToolError and top-level Error payloads.
	Err string `json:"error,omitempty"`
}

// Constructors keep event literals short at call sites and in tests.

func Start() Event                      { return Event{Kind: EventStart} }
func TextDelta(text string) Event       { return Event{Kind: EventTextDelta, Text: text} }
func ReasoningStart() Event             { return Event{Kind: EventReasoningStart} }
func ReasoningDelta(text string) Event  { return Event{Kind: EventReasoningDelta, Text: text} }
func ReasoningEnd() Event               { return Event{Kind: EventReasoningEnd} }
func Finish(reason FinishReason) Event  { return Event{Kind: EventFinish, Reason: reason} }
func StreamError(message string) Event  { return Event{Kind: EventError, Err: message} }

func ToolCallStart(id, name string) Event {
	return Event{Kind: EventToolCallStart, ID: id, Name: name}
}

func ToolCallInput(id, input string) Event {
	return Event{Kind: EventToolCallInput, ID: id, Input: input}
}

func ToolResult(id, output string) Event {
	return Event{Kind: EventToolResult, ID: id, Output: output}
}

func ToolError(id, message string) Event {
	return Event{Kind: EventToolError, ID: id, Err: message}
}
