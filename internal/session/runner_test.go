package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/stream"
	"github.com/strandlabs/strand/internal/tools"
)

// script is one provider response: either an error on Stream, or an
// event sequence with optional reported usage.
type script struct {
	err    error
	events []stream.Event
	usage  *TokenUsage
}

// fakeProvider replays scripts in order; the last script repeats once
// exhausted. It captures every request for transcript assertions.
type fakeProvider struct {
	scripts  []script
	calls    int
	requests []*Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req *Request) (<-chan stream.Event, error) {
	i := f.calls
	if i >= len(f.scripts) {
		i = len(f.scripts) - 1
	}
	f.calls++
	f.requests = append(f.requests, req)

	s := f.scripts[i]
	if s.err != nil {
		return nil, s.err
	}
	if s.usage != nil && req.OnUsage != nil {
		req.OnUsage(*s.usage)
	}

	ch := make(chan stream.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	err := reg.Register(tools.Func{
		ToolName:        "echo",
		ToolDescription: "echoes its msg field",
		InputSchema:     `{"type":"object","required":["msg"],"properties":{"msg":{"type":"string"}}}`,
		Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in struct {
				Msg string `json:"msg"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return "", err
			}
			return "echo: " + in.Msg, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() = %v", err)
	}
	return reg
}

func TestRun_TextOnly(t *testing.T) {
	provider := &fakeProvider{scripts: []script{{
		events: []stream.Event{
			stream.Start(),
			stream.TextDelta("Hello, "),
			stream.TextDelta("world"),
			stream.Finish(stream.FinishStop),
		},
	}}}

	var deltas []string
	runner := NewRunner(provider, nil, RunnerConfig{
		Model:  "claude-sonnet-4",
		Logger: quietLogger(),
		OnText: func(s string) { deltas = append(deltas, s) },
	})

	res, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Text != "Hello, world" {
		t.Errorf("Text = %q, want %q", res.Text, "Hello, world")
	}
	if res.Reason != stream.FinishStop {
		t.Errorf("Reason = %q, want stop", res.Reason)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
	if got := strings.Join(deltas, ""); got != "Hello, world" {
		t.Errorf("OnText saw %q", got)
	}
	if res.SnapshotID == "" {
		t.Error("SnapshotID should be assigned")
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	provider := &fakeProvider{scripts: []script{
		{events: []stream.Event{
			stream.Start(),
			stream.ToolCallStart("c1", "echo"),
			stream.ToolCallInput("c1", `{"msg":"hi"}`),
			stream.Finish(stream.FinishToolCall),
		}},
		{events: []stream.Event{
			stream.Start(),
			stream.TextDelta("done"),
			stream.Finish(stream.FinishStop),
		}},
	}}

	runner := NewRunner(provider, echoRegistry(t), RunnerConfig{
		Model:  "claude-sonnet-4",
		Logger: quietLogger(),
	})

	res, proc, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "call echo"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Text != "done" || res.Iterations != 2 {
		t.Errorf("got Text=%q Iterations=%d", res.Text, res.Iterations)
	}

	state, ok := proc.ToolState("c1")
	if !ok || state.Phase != stream.PhaseCompleted {
		t.Fatalf("ToolState(c1) = %+v, %v; want completed", state, ok)
	}
	if state.Output != "echo: hi" {
		t.Errorf("Output = %q", state.Output)
	}

	// The second request must carry the tool outcome.
	if len(provider.requests) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(provider.requests))
	}
	msgs := provider.requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || last.ToolCallID != "c1" || last.Content != "echo: hi" || last.IsError {
		t.Errorf("fed-back message = %+v", last)
	}
	assistant := msgs[len(msgs)-2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "c1" {
		t.Errorf("assistant tool-call turn = %+v", assistant)
	}
}

func TestRun_ToolFailureFedBack(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Func{
		ToolName: "flaky",
		Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
			return "", errors.New("disk on fire")
		},
	}); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{scripts: []script{
		{events: []stream.Event{
			stream.ToolCallStart("c1", "flaky"),
			stream.ToolCallInput("c1", `{}`),
			stream.Finish(stream.FinishToolCall),
		}},
		{events: []stream.Event{
			stream.TextDelta("recovered"),
			stream.Finish(stream.FinishStop),
		}},
	}}

	runner := NewRunner(provider, reg, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	res, proc, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "go"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q", res.Text)
	}

	state, _ := proc.ToolState("c1")
	if state.Phase != stream.PhaseErrored {
		t.Errorf("Phase = %s, want errored", state.Phase)
	}
	msgs := provider.requests[1].Messages
	last := msgs[len(msgs)-1]
	if !last.IsError || !strings.Contains(last.Content, "disk on fire") {
		t.Errorf("fed-back message = %+v", last)
	}
}

func TestRun_UnknownToolFedBackAsError(t *testing.T) {
	provider := &fakeProvider{scripts: []script{
		{events: []stream.Event{
			stream.ToolCallStart("c1", "missing"),
			stream.ToolCallInput("c1", `{}`),
			stream.Finish(stream.FinishToolCall),
		}},
		{events: []stream.Event{stream.Finish(stream.FinishStop)}},
	}}

	runner := NewRunner(provider, nil, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	_, proc, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "go"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	state, _ := proc.ToolState("c1")
	if state.Phase != stream.PhaseErrored {
		t.Errorf("Phase = %s, want errored", state.Phase)
	}
}

func TestRun_DoomLoopAbortsWithoutRetry(t *testing.T) {
	call := func(id string) []stream.Event {
		return []stream.Event{
			stream.ToolCallStart(id, "echo"),
			stream.ToolCallInput(id, `{"msg":"same"}`),
		}
	}
	var events []stream.Event
	events = append(events, stream.Start())
	events = append(events, call("a")...)
	events = append(events, call("b")...)
	events = append(events, call("c")...)
	events = append(events, stream.Finish(stream.FinishToolCall))

	provider := &fakeProvider{scripts: []script{{events: events}}}
	runner := NewRunner(provider, echoRegistry(t), RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})

	_, proc, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "loop"}})
	if !errors.Is(err, ErrDoomLoop) {
		t.Fatalf("Run() = %v, want ErrDoomLoop", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1 (doom loops must not retry)", provider.calls)
	}
	if proc.RetryCount() != 0 {
		t.Errorf("RetryCount = %d, want 0", proc.RetryCount())
	}
}

// pumpProvider streams from a goroutine over an unbuffered channel the
// way the real adapters do, racing each send against the context. done
// closes when the goroutine exits.
type pumpProvider struct {
	events []stream.Event
	done   chan struct{}
}

func (p *pumpProvider) Name() string { return "pump" }

func (p *pumpProvider) Stream(ctx context.Context, req *Request) (<-chan stream.Event, error) {
	ch := make(chan stream.Event)
	go func() {
		defer close(ch)
		defer close(p.done)
		for _, ev := range p.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func TestRun_AbortedStreamUnblocksPump(t *testing.T) {
	// A doom loop aborts consumption with the trailing Finish unread;
	// the runner must still release the pump goroutine.
	call := func(id string) []stream.Event {
		return []stream.Event{
			stream.ToolCallStart(id, "echo"),
			stream.ToolCallInput(id, `{"msg":"same"}`),
		}
	}
	var events []stream.Event
	events = append(events, stream.Start())
	events = append(events, call("a")...)
	events = append(events, call("b")...)
	events = append(events, call("c")...)
	events = append(events, stream.Finish(stream.FinishToolCall))

	provider := &pumpProvider{events: events, done: make(chan struct{})}
	runner := NewRunner(provider, echoRegistry(t), RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})

	_, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "loop"}})
	if !errors.Is(err, ErrDoomLoop) {
		t.Fatalf("Run() = %v, want ErrDoomLoop", err)
	}

	select {
	case <-provider.done:
	case <-time.After(time.Second):
		t.Fatal("provider goroutine still blocked sending after Run returned")
	}
}

func TestRun_RetriesProviderError(t *testing.T) {
	provider := &fakeProvider{scripts: []script{
		{err: errors.New("connection reset")},
		{events: []stream.Event{
			stream.TextDelta("ok"),
			stream.Finish(stream.FinishStop),
		}},
	}}

	runner := NewRunner(provider, nil, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	start := time.Now()
	res, proc, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q", res.Text)
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2", provider.calls)
	}
	if proc.RetryCount() != 1 {
		t.Errorf("RetryCount = %d, want 1", proc.RetryCount())
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("retry returned after %v, want >= 100ms backoff", elapsed)
	}
}

func TestRun_RetriesProtocolError(t *testing.T) {
	provider := &fakeProvider{scripts: []script{
		{events: []stream.Event{stream.StreamError("overloaded")}},
		{events: []stream.Event{
			stream.TextDelta("ok"),
			stream.Finish(stream.FinishStop),
		}},
	}}

	runner := NewRunner(provider, nil, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	res, proc, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Text != "ok" || proc.RetryCount() != 1 {
		t.Errorf("Text=%q RetryCount=%d", res.Text, proc.RetryCount())
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	provider := &fakeProvider{scripts: []script{
		{err: errors.New("still down")},
	}}

	runner := NewRunner(provider, nil, RunnerConfig{
		Model:      "claude-sonnet-4",
		MaxRetries: 1,
		Logger:     quietLogger(),
	})
	_, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run() = %v, want ErrRetriesExhausted", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2 (initial + 1 retry)", provider.calls)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	// Every attempt demands another tool call; the loop must stop at the
	// iteration limit before the doom-loop threshold is reachable.
	provider := &fakeProvider{scripts: []script{
		{events: []stream.Event{
			stream.ToolCallStart("c1", "echo"),
			stream.ToolCallInput("c1", `{"msg":"again"}`),
			stream.Finish(stream.FinishToolCall),
		}},
	}}

	runner := NewRunner(provider, echoRegistry(t), RunnerConfig{
		Model:         "claude-sonnet-4",
		MaxIterations: 2,
		Logger:        quietLogger(),
	})
	res, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "go"}})
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("Run() = %v, want ErrMaxIterations", err)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
}

func TestRun_UsageRecorded(t *testing.T) {
	provider := &fakeProvider{scripts: []script{{
		usage: &TokenUsage{Prompt: 100, Completion: 50, CacheRead: 10},
		events: []stream.Event{
			stream.TextDelta("hi"),
			stream.Finish(stream.FinishStop),
		},
	}}}

	runner := NewRunner(provider, nil, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	res, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Usage.PromptTokens != 100 || res.Usage.CompletionTokens != 50 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Usage.TotalTokens != 150 {
		t.Errorf("TotalTokens = %d, want 150 (cache reads excluded)", res.Usage.TotalTokens)
	}
	if res.Usage.CacheReadTokens != 10 {
		t.Errorf("CacheReadTokens = %d, want 10", res.Usage.CacheReadTokens)
	}
	if res.Usage.EstimatedCost <= 0 {
		t.Error("EstimatedCost should be positive")
	}
}

func TestRun_StreamClosedWithoutFinish(t *testing.T) {
	provider := &fakeProvider{scripts: []script{{
		events: []stream.Event{stream.TextDelta("partial")},
	}}}

	runner := NewRunner(provider, nil, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	res, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Reason != stream.FinishStop {
		t.Errorf("Reason = %q, want stop for a cleanly closed stream", res.Reason)
	}
	if res.Text != "partial" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestRun_ToolDefsOffered(t *testing.T) {
	provider := &fakeProvider{scripts: []script{{
		events: []stream.Event{stream.Finish(stream.FinishStop)},
	}}}

	runner := NewRunner(provider, echoRegistry(t), RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	if _, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	defs := provider.requests[0].Tools
	if len(defs) != 1 || defs[0].Name != "echo" {
		t.Fatalf("Tools = %+v, want the echo tool", defs)
	}
	if defs[0].Schema == "" {
		t.Error("Schema should be forwarded")
	}
}

func TestRun_ScalarAndNestedInputs(t *testing.T) {
	// Tool inputs are arbitrary JSON; the round trip through the
	// processor and json.Marshal must preserve them for Execute.
	var seen []string
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Func{
		ToolName: "capture",
		Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
			seen = append(seen, string(input))
			return "ok", nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{scripts: []script{
		{events: []stream.Event{
			stream.ToolCallStart("c1", "capture"),
			stream.ToolCallInput("c1", `{"nested":{"a":[1,2]}}`),
			stream.ToolCallStart("c2", "capture"),
			stream.ToolCallInput("c2", `"just a string"`),
			stream.Finish(stream.FinishToolCall),
		}},
		{events: []stream.Event{stream.Finish(stream.FinishStop)}},
	}}

	runner := NewRunner(provider, reg, RunnerConfig{Model: "claude-sonnet-4", Logger: quietLogger()})
	if _, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "go"}}); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("tool ran %d times, want 2", len(seen))
	}
	var roundTripped map[string]any
	if err := json.Unmarshal([]byte(seen[0]), &roundTripped); err != nil {
		t.Fatalf("first input not valid JSON: %v", err)
	}
	if seen[1] != `"just a string"` {
		t.Errorf("scalar input = %s", seen[1])
	}
}

func TestRun_ProviderErrorsWrapCause(t *testing.T) {
	cause := fmt.Errorf("rate limited")
	provider := &fakeProvider{scripts: []script{{err: cause}}}

	runner := NewRunner(provider, nil, RunnerConfig{
		Model:      "claude-sonnet-4",
		MaxRetries: 1,
		Logger:     quietLogger(),
	})
	_, _, err := runner.Run(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v, want cause preserved", err)
	}
}
