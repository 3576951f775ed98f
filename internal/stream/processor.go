package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/strandlabs/strand/internal/loopguard"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/retry"
	"github.com/strandlabs/strand/internal/usage"
)

// Config configures a Processor.
type Config struct {
	// Model selects pricing and token limits for the usage tracker.
	Model string

	// MaxRetries bounds the retry controller. Default: 3.
	MaxRetries int

	// Cancel is the shared cancellation token. A fresh token is created
	// when nil.
	Cancel *CancelToken

	// Logger receives structured processing logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives processing counters when set.
	Metrics *observability.Metrics
}

// Processor consumes one stream event at a time and yields a verdict
// per event. It owns the per-tool-call state machine, consults the loop
// guard before allowing a tool call through, and carries the session's
// usage tracker and retry bookkeeping.
//
// Processor is single-owner: exactly one caller feeds it events and no
// method is safe to invoke concurrently, except for reads that go
// through the usage tracker's own lock and Cancel on the token. Use one
// Processor per in-flight session.
type Processor struct {
	states  map[string]*ToolState
	guard   *loopguard.Guard
	retries *retry.Controller
	tracker *usage.Tracker
	cancel  *CancelToken

	snapshotID string
	logger     *slog.Logger
	metrics    *observability.Metrics

	// now is swapped in tests for deterministic durations.
	now func() time.Time
}

// NewProcessor creates a processor for one session.
func NewProcessor(cfg Config) *Processor {
	if cfg.Cancel == nil {
		cfg.Cancel = NewCancelToken()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		states:  make(map[string]*ToolState),
		guard:   loopguard.New(),
		retries: retry.NewController(cfg.MaxRetries),
		tracker: usage.NewTracker(cfg.Model),
		cancel:  cfg.Cancel,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// ProcessEvent applies one event and returns the verdict. The
// cancellation token is polled first: once set, every call returns
// Cancelled and no state mutates.
func (p *Processor) ProcessEvent(ev Event) ProcessResult {
	if p.cancel.Cancelled() {
		return p.observe(ev, cancelled())
	}

	switch ev.Kind {
	case EventStart, EventTextDelta, EventReasoningStart, EventReasoningDelta, EventReasoningEnd:
		// Text and reasoning payloads pass through to the caller for
		// rendering; nothing is retained here.
		return p.observe(ev, continueResult())

	case EventToolCallStart:
		return p.observe(ev, p.handleToolCallStart(ev))

	case EventToolCallInput:
		return p.observe(ev, p.handleToolCallInput(ev))

	case EventToolResult:
		return p.observe(ev, p.handleToolTerminal(ev, PhaseCompleted))

	case EventToolError:
		return p.observe(ev, p.handleToolTerminal(ev, PhaseErrored))

	case EventFinish:
		return p.observe(ev, finished(ev.Reason))

	case EventError:
		return p.observe(ev, errorResult(ev.Err))

	default:
		return p.observe(ev, errorResult(fmt.Sprintf("unknown event kind %q", ev.Kind)))
	}
}

func (p *Processor) handleToolCallStart(ev Event) ProcessResult {
	// Transports are expected not to reuse ids within a session; reuse
	// over a live call is a protocol error, reuse after a terminal
	// state starts a fresh call.
	if prior, ok := p.states[ev.ID]; ok && !prior.Phase.Terminal() {
		return errorResult(fmt.Sprintf("tool call id %q reused while in state %s", ev.ID, prior.Phase))
	}
	p.states[ev.ID] = &ToolState{Phase: PhasePending, Name: ev.Name}
	return continueResult()
}

func (p *Processor) handleToolCallInput(ev Event) ProcessResult {
	var input any
	if err := json.Unmarshal([]byte(ev.Input), &input); err != nil {
		return errorResult(fmt.Sprintf("tool call %q: invalid input JSON: %v", ev.ID, err))
	}

	state, ok := p.states[ev.ID]
	if !ok || state.Phase != PhasePending {
		return errorResult(fmt.Sprintf("tool call %q not initialized", ev.ID))
	}

	state.Phase = PhaseRunning
	state.Input = input
	state.StartTime = p.now()

	p.guard.RecordCall(state.Name, input)
	if p.guard.IsDoomLoop(state.Name, input) {
		if p.metrics != nil {
			p.metrics.DoomLoopsDetected.WithLabelValues(state.Name).Inc()
		}
		p.logger.Warn("doom loop detected",
			"tool", state.Name,
			"call_id", ev.ID,
			"threshold", loopguard.RepeatThreshold)
		return errorResult(fmt.Sprintf("%s%s called %d times with identical input",
			doomLoopPrefix, state.Name, loopguard.RepeatThreshold))
	}

	return toolCallRequired(ev.ID, state.Name, input)
}

func (p *Processor) handleToolTerminal(ev Event, phase ToolPhase) ProcessResult {
	state, ok := p.states[ev.ID]
	if !ok || state.Phase != PhaseRunning {
		return errorResult(fmt.Sprintf("tool call %q not running", ev.ID))
	}

	state.Phase = phase
	state.Duration = p.now().Sub(state.StartTime)
	status := "completed"
	if phase == PhaseErrored {
		state.Err = ev.Err
		status = "error"
	} else {
		state.Output = ev.Output
	}

	if p.metrics != nil {
		p.metrics.ToolDuration.WithLabelValues(state.Name, status).Observe(state.Duration.Seconds())
	}
	p.logger.Debug("tool call finished",
		"tool", state.Name,
		"call_id", ev.ID,
		"status", status,
		"duration", state.Duration)
	return continueResult()
}

// observe counts the event/verdict pair before returning the verdict.
func (p *Processor) observe(ev Event, res ProcessResult) ProcessResult {
	if p.metrics != nil {
		p.metrics.EventsProcessed.WithLabelValues(string(ev.Kind), string(res.Kind)).Inc()
	}
	return res
}

// ToolState returns a copy of the state for a tool call id.
func (p *Processor) ToolState(id string) (ToolState, bool) {
	state, ok := p.states[id]
	if !ok {
		return ToolState{}, false
	}
	return *state, true
}

// Usage returns the session's token ledger. Safe to read from other
// goroutines; the tracker carries its own lock.
func (p *Processor) Usage() *usage.Tracker {
	return p.tracker
}

// Retries returns the session's retry controller.
func (p *Processor) Retries() *retry.Controller {
	return p.retries
}

// RetryCount returns the number of retries taken so far.
func (p *Processor) RetryCount() int {
	return p.retries.Count()
}

// CancelToken returns the shared cancellation token for this session.
func (p *Processor) CancelToken() *CancelToken {
	return p.cancel
}

// SnapshotID returns the opaque rollback correlation handle.
func (p *Processor) SnapshotID() string {
	return p.snapshotID
}

// SetSnapshotID stores the rollback correlation handle. The processor
// never interprets it.
func (p *Processor) SetSnapshotID(id string) {
	p.snapshotID = id
}

// ResetForRetry clears tool states and the loop-guard window so a
// retried attempt starts clean. Cumulative token counts and the
// snapshot handle are preserved, which keeps cost accounting and
// rollback correlation correct across retries. Advancing the retry
// counter is the caller's separate step via Retries().Increment().
func (p *Processor) ResetForRetry() {
	p.states = make(map[string]*ToolState)
	p.guard.Reset()
	p.logger.Info("processor reset for retry",
		"retry", p.retries.Count(),
		"max_retries", p.retries.MaxRetries())
}
