// Package providers adapts LLM transports to the session.Provider
// interface: it turns each vendor's streaming wire format into the
// event union the processor consumes, and reports token usage through
// the request callback as counts arrive.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/strandlabs/strand/internal/session"
	"github.com/strandlabs/strand/internal/stream"
)

// Config holds the common provider settings.
type Config struct {
	// APIKey is the provider credential (required).
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string
}

// Anthropic streams completions from the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}, nil
}

// Name implements session.Provider.
func (p *Anthropic) Name() string { return "anthropic" }

// Stream implements session.Provider.
func (p *Anthropic) Stream(ctx context.Context, req *session.Request) (<-chan stream.Event, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	sse := p.client.Messages.NewStreaming(ctx, params)
	events := make(chan stream.Event)
	go p.pump(ctx, sse, req, events)
	return events, nil
}

func (p *Anthropic) buildParams(req *session.Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// pump translates SSE events into the stream union. Tool input JSON is
// accumulated across input_json_delta events and emitted as one
// ToolCallInput when the content block closes.
func (p *Anthropic) pump(ctx context.Context, sse *ssestream.Stream[anthropic.MessageStreamEventUnion], req *session.Request, events chan<- stream.Event) {
	defer close(events)

	// The receiver may stop reading mid-stream (cancellation, doom
	// loop), so every send races the context; a false emit means the
	// session is gone and the pump must exit.
	emit := func(ev stream.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var toolID string
	var toolInput strings.Builder
	inThinking := false
	stopReason := ""

	for sse.Next() {
		event := sse.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if req.OnUsage != nil {
				req.OnUsage(session.TokenUsage{
					Prompt:     ms.Message.Usage.InputTokens,
					CacheRead:  ms.Message.Usage.CacheReadInputTokens,
					CacheWrite: ms.Message.Usage.CacheCreationInputTokens,
				})
			}
			if !emit(stream.Start()) {
				return
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				if !emit(stream.ReasoningStart()) {
					return
				}
			case "tool_use":
				toolUse := block.AsToolUse()
				toolID = toolUse.ID
				toolInput.Reset()
				if !emit(stream.ToolCallStart(toolUse.ID, toolUse.Name)) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(stream.TextDelta(delta.Text)) {
						return
					}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !emit(stream.ReasoningDelta(delta.Thinking)) {
						return
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			switch {
			case inThinking:
				inThinking = false
				if !emit(stream.ReasoningEnd()) {
					return
				}
			case toolID != "":
				input := toolInput.String()
				if input == "" {
					// Zero-argument tools stream no input deltas.
					input = "{}"
				}
				id := toolID
				toolID = ""
				if !emit(stream.ToolCallInput(id, input)) {
					return
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 && req.OnUsage != nil {
				req.OnUsage(session.TokenUsage{Completion: md.Usage.OutputTokens})
			}
			if md.Delta.StopReason != "" {
				stopReason = string(md.Delta.StopReason)
			}

		case "message_stop":
			emit(stream.Finish(anthropicFinishReason(stopReason)))
			return

		case "error":
			emit(stream.StreamError("anthropic: stream error"))
			return
		}
	}

	if err := sse.Err(); err != nil {
		emit(stream.StreamError(fmt.Sprintf("anthropic: %v", err)))
	}
}

func anthropicFinishReason(stopReason string) stream.FinishReason {
	switch stopReason {
	case "max_tokens":
		return stream.FinishLength
	case "tool_use":
		return stream.FinishToolCall
	case "refusal":
		return stream.FinishContentFilter
	default:
		return stream.FinishStop
	}
}

func convertAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		// Tool outcomes travel as tool_result blocks inside user
		// messages in the Anthropic API.
		if msg.Role == "tool" {
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError),
			))
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid input: %w", tc.ID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(defs []session.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if def.Schema != "" {
			if err := json.Unmarshal([]byte(def.Schema), &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
			}
		}

		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}

	return result, nil
}
