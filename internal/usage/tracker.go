package usage

import "sync"

// LimitStatus classifies how close a session is to its token limit.
type LimitStatus string

const (
	StatusNormal   LimitStatus = "normal"   // < 75% of the limit
	StatusWarning  LimitStatus = "warning"  // 75-90%
	StatusCritical LimitStatus = "critical" // >= 90%
)

// Tracker is the mutable token ledger for one session.
//
// Invariants: TotalTokens == PromptTokens + CompletionTokens after every
// recording call, and EstimatedCost is monotonically non-decreasing
// except on an explicit Reset. Reasoning tokens bill at the completion
// rate and fold into the completion counter. Cache reads and writes keep
// their own counters and cost but stay out of the total.
//
// A mutex guards the counters: the stream processor mutates the tracker
// while observability callers read it from other goroutines.
type Tracker struct {
	mu sync.RWMutex

	model   string
	pricing Pricing

	totalTokens      int64
	promptTokens     int64
	completionTokens int64
	cacheReadTokens  int64
	cacheWriteTokens int64
	estimatedCost    float64
	tokenLimit       int64
}

// NewTracker creates a tracker for a session on the given model, seeding
// the token limit and rates from the pricing catalog (or the default
// entry for unknown models).
func NewTracker(model string) *Tracker {
	pricing, _ := LookupPricing(model)
	return &Tracker{
		model:      model,
		pricing:    pricing,
		tokenLimit: pricing.ContextWindow,
	}
}

// Snapshot is a read-only copy of the tracker's counters.
type Snapshot struct {
	Model            string
	TotalTokens      int64
	PromptTokens     int64
	CompletionTokens int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	EstimatedCost    float64
	TokenLimit       int64
}

// Snapshot returns a consistent copy of all counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Model:            t.model,
		TotalTokens:      t.totalTokens,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		CacheReadTokens:  t.cacheReadTokens,
		CacheWriteTokens: t.cacheWriteTokens,
		EstimatedCost:    t.estimatedCost,
		TokenLimit:       t.tokenLimit,
	}
}

// Model returns the model this tracker bills against.
func (t *Tracker) Model() string {
	return t.model
}

// SetTokenLimit overrides the context-window limit, e.g. from config.
func (t *Tracker) SetTokenLimit(limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokenLimit = limit
}

// RecordPrompt records prompt (input) tokens at the input rate.
func (t *Tracker) RecordPrompt(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.promptTokens += n
	t.totalTokens += n
	t.estimatedCost += float64(n) / 1_000_000 * t.pricing.InputPer1M
}

// RecordCompletion records completion (output) tokens at the output rate.
func (t *Tracker) RecordCompletion(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completionTokens += n
	t.totalTokens += n
	t.estimatedCost += float64(n) / 1_000_000 * t.pricing.OutputPer1M
}

// RecordReasoning records reasoning tokens. They bill at the completion
// rate and count toward the completion total.
func (t *Tracker) RecordReasoning(n int64) {
	t.RecordCompletion(n)
}

// RecordCacheRead records cache-read tokens at the cache-read rate
// (no added cost when the model has none).
func (t *Tracker) RecordCacheRead(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cacheReadTokens += n
	t.estimatedCost += float64(n) / 1_000_000 * t.pricing.CacheReadPer1M
}

// RecordCacheWrite records cache-write tokens at the cache-write rate.
func (t *Tracker) RecordCacheWrite(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cacheWriteTokens += n
	t.estimatedCost += float64(n) / 1_000_000 * t.pricing.CacheWritePer1M
}

// UsagePercentage returns total tokens as a percentage of the token
// limit, or 0 when no limit is known.
func (t *Tracker) UsagePercentage() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tokenLimit <= 0 {
		return 0
	}
	return float64(t.totalTokens) / float64(t.tokenLimit) * 100
}

// LimitStatus classifies the current usage percentage.
func (t *Tracker) LimitStatus() LimitStatus {
	pct := t.UsagePercentage()
	switch {
	case pct >= 90:
		return StatusCritical
	case pct >= 75:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// Reset clears all counters. Never called implicitly; retries preserve
// cumulative counts and only an explicit caller action resets them.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTokens = 0
	t.promptTokens = 0
	t.completionTokens = 0
	t.cacheReadTokens = 0
	t.cacheWriteTokens = 0
	t.estimatedCost = 0
}
