package stream

import "strings"

// ResultKind discriminates the ProcessResult union.
type ResultKind string

const (
	ResultContinue         ResultKind = "continue"
	ResultToolCallRequired ResultKind = "tool_call_required"
	ResultFinished         ResultKind = "finished"
	ResultCancelled        ResultKind = "cancelled"
	ResultError            ResultKind = "error"
)

// ProcessResult is the verdict for one processed event. The session
// loop switches on Kind to decide the next action.
type ProcessResult struct {
	Kind ResultKind

	// ID, Name, Input describe the call on ToolCallRequired. Input is
	// the parsed structured value.
	ID    string
	Name  string
	Input any

	// Reason is set on Finished.
	Reason FinishReason

	// Message is set on Error.
	Message string
}

// doomLoopPrefix marks doom-loop errors so callers can distinguish
// runaway-behavior errors (not worth retrying) from protocol errors.
const doomLoopPrefix = "doom loop detected: "

// IsDoomLoop reports whether an error verdict was a doom-loop detection.
func (r ProcessResult) IsDoomLoop() bool {
	return r.Kind == ResultError && strings.HasPrefix(r.Message, doomLoopPrefix)
}

func continueResult() ProcessResult {
	return ProcessResult{Kind: ResultContinue}
}

func toolCallRequired(id, name string, input any) ProcessResult {
	return ProcessResult{Kind: ResultToolCallRequired, ID: id, Name: name, Input: input}
}

func finished(reason FinishReason) ProcessResult {
	return ProcessResult{Kind: ResultFinished, Reason: reason}
}

func cancelled() ProcessResult {
	return ProcessResult{Kind: ResultCancelled}
}

func errorResult(message string) ProcessResult {
	return ProcessResult{Kind: ResultError, Message: message}
}
