package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/internal/retry"
	"github.com/strandlabs/strand/internal/session"
	"github.com/strandlabs/strand/internal/stream"
)

// OpenAI streams completions from the OpenAI Chat Completions API.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// Name implements session.Provider.
func (p *OpenAI) Name() string { return "openai" }

// Stream implements session.Provider.
func (p *OpenAI) Stream(ctx context.Context, req *session.Request) (<-chan stream.Event, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	// Transient failures on stream creation (rate limits, 5xx) are
	// retried here; anything else is permanent and surfaces to the
	// session loop.
	var cs *openai.ChatCompletionStream
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var streamErr error
		cs, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if streamErr != nil && !isRetryableOpenAIError(streamErr) {
			return retry.Permanent(streamErr)
		}
		return streamErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}

	events := make(chan stream.Event)
	go p.pump(ctx, cs, req, events)
	return events, nil
}

// pendingToolCall accumulates one tool invocation across chunks. OpenAI
// streams the id and name in the first fragment and the argument JSON
// piecewise after it, keyed by index.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// pump translates chat completion chunks into the stream union. Tool
// calls are buffered until the finish reason confirms them complete,
// then emitted as ToolCallStart/ToolCallInput pairs in index order.
func (p *OpenAI) pump(ctx context.Context, cs *openai.ChatCompletionStream, req *session.Request, events chan<- stream.Event) {
	defer close(events)
	defer cs.Close()

	// Sends race the context so an abandoned receiver (cancellation,
	// doom loop) cannot strand this goroutine or the HTTP stream.
	emit := func(ev stream.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(stream.Start()) {
		return
	}

	pending := make(map[int]*pendingToolCall)
	finish := stream.FinishStop

	flush := func() bool {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tc := pending[i]
			if tc.id == "" || tc.name == "" {
				continue
			}
			input := tc.args.String()
			if input == "" {
				input = "{}"
			}
			if !emit(stream.ToolCallStart(tc.id, tc.name)) {
				return false
			}
			if !emit(stream.ToolCallInput(tc.id, input)) {
				return false
			}
		}
		pending = make(map[int]*pendingToolCall)
		return true
	}

	for {
		resp, err := cs.Recv()
		if errors.Is(err, io.EOF) {
			if flush() {
				emit(stream.Finish(finish))
			}
			return
		}
		if err != nil {
			emit(stream.StreamError(fmt.Sprintf("openai: %v", err)))
			return
		}

		if resp.Usage != nil && req.OnUsage != nil {
			usage := session.TokenUsage{
				Prompt:     int64(resp.Usage.PromptTokens),
				Completion: int64(resp.Usage.CompletionTokens),
			}
			if resp.Usage.PromptTokensDetails != nil {
				usage.CacheRead = int64(resp.Usage.PromptTokensDetails.CachedTokens)
			}
			req.OnUsage(usage)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(stream.TextDelta(choice.Delta.Content)) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &pendingToolCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.args.WriteString(tc.Function.Arguments)
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			finish = stream.FinishToolCall
			if !flush() {
				return
			}
		case openai.FinishReasonLength:
			finish = stream.FinishLength
		case openai.FinishReasonContentFilter:
			finish = stream.FinishContentFilter
		case openai.FinishReasonStop:
			finish = stream.FinishStop
		}
	}
}

// isRetryableOpenAIError classifies transient API failures worth a
// second attempt at stream creation.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Network-level failures come through as plain errors.
	return true
}

func convertOpenAIMessages(messages []session.Message, system string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case "assistant":
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				out.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					out.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
			result = append(result, out)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertOpenAITools(defs []session.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(defs))

	for i, def := range defs {
		params := json.RawMessage(def.Schema)
		if def.Schema == "" {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		}
	}

	return result
}
