package providers

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/internal/session"
	"github.com/strandlabs/strand/internal/stream"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{"anthropic", "anthropic", false},
		{"default is anthropic", "", false},
		{"openai", "openai", false},
		{"unknown", "llamacpp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.provider, Config{APIKey: "test-key"})
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
			}
		})
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New("anthropic", Config{}); err == nil {
		t.Error("anthropic provider should require an API key")
	}
	if _, err := New("openai", Config{}); err == nil {
		t.Error("openai provider should require an API key")
	}
}

func TestAnthropicFinishReason(t *testing.T) {
	tests := []struct {
		stopReason string
		want       stream.FinishReason
	}{
		{"end_turn", stream.FinishStop},
		{"stop_sequence", stream.FinishStop},
		{"max_tokens", stream.FinishLength},
		{"tool_use", stream.FinishToolCall},
		{"refusal", stream.FinishContentFilter},
		{"", stream.FinishStop},
	}

	for _, tt := range tests {
		if got := anthropicFinishReason(tt.stopReason); got != tt.want {
			t.Errorf("anthropicFinishReason(%q) = %q, want %q", tt.stopReason, got, tt.want)
		}
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs := []session.Message{
		{Role: "user", Content: "run the search"},
		{Role: "assistant", ToolCalls: []session.ToolCall{
			{ID: "c1", Name: "grep", Input: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: "tool", ToolCallID: "c1", Content: "3 matches"},
	}

	out, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convertAnthropicMessages() = %v", err)
	}
	// user text, assistant tool_use, user tool_result
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
	if out[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("message 1 role = %v, want assistant", out[1].Role)
	}
	if out[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("tool result should travel as a user message, got %v", out[2].Role)
	}
}

func TestConvertAnthropicMessages_RejectsBadToolInput(t *testing.T) {
	msgs := []session.Message{
		{Role: "assistant", ToolCalls: []session.ToolCall{
			{ID: "c1", Name: "grep", Input: json.RawMessage(`not json`)},
		}},
	}
	if _, err := convertAnthropicMessages(msgs); err == nil {
		t.Error("invalid tool input JSON should fail conversion")
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []session.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "checking", ToolCalls: []session.ToolCall{
			{ID: "c1", Name: "grep", Input: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: "tool", ToolCallID: "c1", Content: "3 matches"},
	}

	out := convertOpenAIMessages(msgs, "be terse")
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 3)", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Errorf("system message = %+v", out[0])
	}
	if out[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("assistant role = %q", out[2].Role)
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "grep" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", out[3])
	}
}

func TestConvertOpenAITools(t *testing.T) {
	defs := []session.ToolDef{
		{Name: "grep", Description: "search files", Schema: `{"type":"object"}`},
		{Name: "noop"},
	}

	out := convertOpenAITools(defs)
	if len(out) != 2 {
		t.Fatalf("got %d tools, want 2", len(out))
	}
	if out[0].Function.Name != "grep" || out[0].Function.Description != "search files" {
		t.Errorf("tool 0 = %+v", out[0].Function)
	}
	// Empty schemas degrade to an empty object schema.
	raw, ok := out[1].Function.Parameters.(json.RawMessage)
	if !ok {
		t.Fatalf("parameters type = %T", out[1].Function.Parameters)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("fallback schema not valid JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("fallback schema = %v", schema)
	}
}
