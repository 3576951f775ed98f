package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/stream"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/internal/usage"
)

// RunnerConfig configures a session runner.
type RunnerConfig struct {
	// Model is the model id for requests and usage accounting.
	Model string

	// System is the system prompt.
	System string

	// MaxTokens caps response length per request. Default: 4096.
	MaxTokens int

	// MaxIterations limits tool-use iterations per run. Default: 10.
	MaxIterations int

	// MaxRetries bounds retries per run. Default: 3.
	MaxRetries int

	// TokenLimit overrides the catalog context window when non-zero.
	TokenLimit int64

	// OnText receives assistant text deltas for incremental rendering.
	OnText func(string)

	// OnReasoning receives reasoning deltas.
	OnReasoning func(string)

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives counters when set.
	Metrics *observability.Metrics

	// Tracer emits spans when set.
	Tracer *observability.Tracer
}

// Runner executes one conversation turn at a time against a provider,
// using a fresh Processor per run.
type Runner struct {
	provider Provider
	registry *tools.Registry
	cfg      RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a runner. The registry may be nil when the model is
// offered no tools.
func NewRunner(provider Provider, registry *tools.Registry, cfg RunnerConfig) *Runner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// Result is the outcome of one run.
type Result struct {
	// Text is the accumulated assistant text.
	Text string

	// Reason is the model's finish reason.
	Reason stream.FinishReason

	// Usage is the final token ledger snapshot.
	Usage usage.Snapshot

	// SnapshotID is the rollback correlation handle assigned to this run.
	SnapshotID string

	// Iterations is the number of provider round trips taken.
	Iterations int
}

// Run executes one user turn to completion: stream, dispatch tools,
// feed outcomes back, repeat until the model finishes. The returned
// processor outlives the run for post-hoc inspection.
func (r *Runner) Run(ctx context.Context, messages []Message) (*Result, *stream.Processor, error) {
	proc := stream.NewProcessor(stream.Config{
		Model:      r.cfg.Model,
		MaxRetries: r.cfg.MaxRetries,
		Logger:     r.logger,
		Metrics:    r.cfg.Metrics,
	})
	proc.SetSnapshotID(uuid.NewString())
	if r.cfg.TokenLimit > 0 {
		proc.Usage().SetTokenLimit(r.cfg.TokenLimit)
	}

	if r.cfg.Tracer != nil {
		runCtx, span := r.cfg.Tracer.StartRun(ctx, r.cfg.Model, proc.SnapshotID())
		defer span.End()
		ctx = runCtx
	}

	res, err := r.run(ctx, proc, messages)
	if r.cfg.Metrics != nil {
		outcome := "finished"
		switch {
		case errors.Is(err, ErrCancelled):
			outcome = "cancelled"
		case err != nil:
			outcome = "error"
		}
		r.cfg.Metrics.SessionRuns.WithLabelValues(outcome).Inc()
	}
	return res, proc, err
}

func (r *Runner) run(ctx context.Context, proc *stream.Processor, messages []Message) (*Result, error) {
	transcript := make([]Message, len(messages))
	copy(transcript, messages)

	var text strings.Builder
	result := &Result{SnapshotID: proc.SnapshotID()}

	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration + 1

		req := &Request{
			Model:     r.cfg.Model,
			System:    r.cfg.System,
			Messages:  transcript,
			Tools:     r.toolDefs(),
			MaxTokens: r.cfg.MaxTokens,
			OnUsage:   r.usageRecorder(proc),
		}

		// Each attempt gets its own cancelable context: when consume
		// stops reading early (doom loop, cancellation, protocol
		// error), canceling it unblocks the provider pump goroutine so
		// it can close its transport and exit.
		streamCtx, cancelStream := context.WithCancel(ctx)
		events, err := r.provider.Stream(streamCtx, req)
		if err != nil {
			cancelStream()
			if retryErr := r.maybeRetry(ctx, proc, "provider", err); retryErr != nil {
				return result, retryErr
			}
			iteration--
			continue
		}

		outcome, toolMsgs, streamErr := r.consume(streamCtx, proc, events, &text)
		cancelStream()
		switch {
		case streamErr == nil && len(toolMsgs) > 0:
			// Feed tool outcomes back to the model on the next iteration.
			transcript = append(transcript, toolMsgs...)
			continue

		case streamErr == nil:
			result.Text = text.String()
			result.Reason = outcome
			result.Usage = proc.Usage().Snapshot()
			r.warnOnOverflow(proc)
			return result, nil

		case errors.Is(streamErr, ErrCancelled) || errors.Is(streamErr, ErrDoomLoop):
			result.Text = text.String()
			result.Usage = proc.Usage().Snapshot()
			return result, streamErr

		default:
			if retryErr := r.maybeRetry(ctx, proc, "protocol", streamErr); retryErr != nil {
				result.Text = text.String()
				result.Usage = proc.Usage().Snapshot()
				return result, retryErr
			}
			iteration--
		}
	}

	result.Text = text.String()
	result.Usage = proc.Usage().Snapshot()
	return result, ErrMaxIterations
}

// consume drains one provider stream through the processor. It returns
// the finish reason when the stream completed, tool messages to feed
// back, or the error that ended the attempt.
func (r *Runner) consume(ctx context.Context, proc *stream.Processor, events <-chan stream.Event, text *strings.Builder) (stream.FinishReason, []Message, error) {
	var toolMsgs []Message
	var turnText strings.Builder
	textAttached := false

	for ev := range events {
		verdict := proc.ProcessEvent(ev)

		switch verdict.Kind {
		case stream.ResultContinue:
			switch ev.Kind {
			case stream.EventTextDelta:
				text.WriteString(ev.Text)
				turnText.WriteString(ev.Text)
				if r.cfg.OnText != nil {
					r.cfg.OnText(ev.Text)
				}
			case stream.EventReasoningDelta:
				if r.cfg.OnReasoning != nil {
					r.cfg.OnReasoning(ev.Text)
				}
			}

		case stream.ResultToolCallRequired:
			assistant, outcome := r.dispatchTool(ctx, proc, verdict)
			if !textAttached && turnText.Len() > 0 {
				// Any text the model produced this turn travels with its
				// first tool call so the transcript replays correctly.
				assistant.Content = turnText.String()
				textAttached = true
			}
			toolMsgs = append(toolMsgs, assistant, outcome)

		case stream.ResultFinished:
			return verdict.Reason, toolMsgs, nil

		case stream.ResultCancelled:
			return "", nil, ErrCancelled

		case stream.ResultError:
			if verdict.IsDoomLoop() {
				r.logger.Error("run aborted", "reason", verdict.Message)
				return "", nil, fmt.Errorf("%w: %s", ErrDoomLoop, verdict.Message)
			}
			return "", nil, fmt.Errorf("stream error: %s", verdict.Message)
		}
	}

	// Stream closed without a Finish event; treat as a clean stop.
	return stream.FinishStop, toolMsgs, nil
}

// dispatchTool executes one required tool call and feeds the outcome
// back into the processor. It returns the assistant message carrying
// the tool invocation and the tool message carrying its outcome, both
// destined for the next iteration's transcript.
func (r *Runner) dispatchTool(ctx context.Context, proc *stream.Processor, verdict stream.ProcessResult) (Message, Message) {
	toolCtx := ctx
	var span trace.Span
	if r.cfg.Tracer != nil {
		toolCtx, span = r.cfg.Tracer.StartToolCall(ctx, verdict.Name, verdict.ID)
		defer span.End()
	}

	input, err := json.Marshal(verdict.Input)
	if err != nil {
		// Input came from json.Unmarshal, so this cannot fail in
		// practice; guard anyway.
		input = []byte("null")
	}
	assistant := Message{
		Role:      "assistant",
		ToolCalls: []ToolCall{{ID: verdict.ID, Name: verdict.Name, Input: input}},
	}

	var output string
	if r.registry == nil {
		err = fmt.Errorf("tool not found: %s", verdict.Name)
	} else {
		output, err = r.registry.Execute(toolCtx, verdict.Name, input)
	}

	if err != nil {
		if span != nil {
			observability.RecordError(span, err)
		}
		r.logger.Warn("tool failed", "tool", verdict.Name, "call_id", verdict.ID, "error", err)
		proc.ProcessEvent(stream.ToolError(verdict.ID, err.Error()))
		return assistant, Message{Role: "tool", ToolCallID: verdict.ID, ToolName: verdict.Name, Content: err.Error(), IsError: true}
	}

	proc.ProcessEvent(stream.ToolResult(verdict.ID, output))
	return assistant, Message{Role: "tool", ToolCallID: verdict.ID, ToolName: verdict.Name, Content: output}
}

// maybeRetry applies the retry budget to a failed attempt: reset the
// processor, wait out the backoff, and return nil to signal the caller
// to retry. A non-nil return ends the run.
func (r *Runner) maybeRetry(ctx context.Context, proc *stream.Processor, reason string, cause error) error {
	if !proc.Retries().CanRetry() {
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, cause)
	}

	delay := proc.Retries().BackoffDelay()
	proc.Retries().Increment()
	proc.ResetForRetry()
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RetriesTaken.WithLabelValues(reason).Inc()
	}
	r.logger.Warn("retrying after failure",
		"reason", reason,
		"error", cause,
		"retry", proc.RetryCount(),
		"backoff", delay)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// usageRecorder routes provider-reported token counts into the ledger.
func (r *Runner) usageRecorder(proc *stream.Processor) func(TokenUsage) {
	return func(u TokenUsage) {
		tracker := proc.Usage()
		tracker.RecordPrompt(u.Prompt)
		tracker.RecordCompletion(u.Completion)
		tracker.RecordCacheRead(u.CacheRead)
		tracker.RecordCacheWrite(u.CacheWrite)
		if r.cfg.Metrics != nil {
			m := r.cfg.Metrics.TokensRecorded
			m.WithLabelValues(r.cfg.Model, "prompt").Add(float64(u.Prompt))
			m.WithLabelValues(r.cfg.Model, "completion").Add(float64(u.Completion))
			m.WithLabelValues(r.cfg.Model, "cache_read").Add(float64(u.CacheRead))
			m.WithLabelValues(r.cfg.Model, "cache_write").Add(float64(u.CacheWrite))
		}
	}
}

// warnOnOverflow logs a compaction advisory when the recorded usage no
// longer fits the usable context. Enforcement is the caller's policy;
// the core never refuses events over token pressure.
func (r *Runner) warnOnOverflow(proc *stream.Processor) {
	s := proc.Usage().Snapshot()
	pricing, _ := usage.LookupPricing(r.cfg.Model)
	if usage.IsOverflow(s.PromptTokens, s.CacheReadTokens, s.CompletionTokens, s.TokenLimit, pricing.MaxOutputTokens) {
		r.logger.Warn("context window pressure: history compaction advised",
			"model", r.cfg.Model,
			"total_tokens", s.TotalTokens,
			"token_limit", s.TokenLimit,
			"status", proc.Usage().LimitStatus())
	}
}

func (r *Runner) toolDefs() []ToolDef {
	if r.registry == nil {
		return nil
	}
	names := r.registry.Names()
	defs := make([]ToolDef, 0, len(names))
	for _, name := range names {
		tool, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}
