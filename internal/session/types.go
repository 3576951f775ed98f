// Package session drives a model conversation through the stream
// processor: it feeds provider events in, dispatches tool calls, feeds
// tool outcomes back, and applies retry policy across attempts.
package session

import (
	"context"
	"encoding/json"

	"github.com/strandlabs/strand/internal/stream"
)

// Message is one entry in the conversation transcript.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the message text, or the tool output for tool messages.
	Content string `json:"content,omitempty"`

	// ToolCalls carries the tool invocations on assistant messages.
	// Provider APIs require the assistant turn that requested a tool to
	// precede the tool result in the transcript.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool message with the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName names the tool on tool messages.
	ToolName string `json:"tool_name,omitempty"`

	// IsError marks a tool message that carries an error.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Schema is the JSON Schema document for the tool's input.
	Schema string `json:"schema,omitempty"`
}

// TokenUsage is the transport-reported token breakdown for one request.
// Token counts are not carried on stream events; providers report them
// through the OnUsage callback as they become known.
type TokenUsage struct {
	Prompt     int64
	Completion int64
	CacheRead  int64
	CacheWrite int64
}

// Request is one completion request to a provider.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int

	// OnUsage is invoked when the provider learns token counts. May be
	// called more than once per stream as counts arrive; each call
	// carries only the newly known increments.
	OnUsage func(TokenUsage)
}

// Provider is the transport collaborator: it turns a request into a
// sequence of stream events in wire order. Implementations own all
// network I/O and provider-specific parsing.
type Provider interface {
	// Stream starts a completion and returns the event channel. The
	// channel closes when the stream ends; a terminal Error or Finish
	// event precedes the close.
	Stream(ctx context.Context, req *Request) (<-chan stream.Event, error)

	// Name returns the provider name for logs and metrics.
	Name() string
}
