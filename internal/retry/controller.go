// Package retry provides a bounded retry counter with exponential
// backoff, plus context-aware helpers for retrying operations.
package retry

import "time"

const (
	// DefaultMaxRetries is the retry budget when none is configured.
	DefaultMaxRetries = 3

	// BaseBackoff is the delay before the first retry; each subsequent
	// retry doubles it.
	BaseBackoff = 100 * time.Millisecond
)

// Controller tracks retry attempts for one processing session.
//
// Controller is not safe for concurrent use; the stream processor owns
// one per session and serializes access.
type Controller struct {
	count int
	max   int
}

// NewController creates a controller with the given retry budget.
// A non-positive maxRetries falls back to DefaultMaxRetries.
func NewController(maxRetries int) *Controller {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Controller{max: maxRetries}
}

// CanRetry reports whether the retry budget still allows another attempt.
func (c *Controller) CanRetry() bool {
	return c.count < c.max
}

// BackoffDelay returns the delay to wait before the next attempt:
// BaseBackoff doubled once per retry already taken.
func (c *Controller) BackoffDelay() time.Duration {
	return BaseBackoff << c.count
}

// Increment advances the retry counter.
func (c *Controller) Increment() {
	c.count++
}

// Count returns the number of retries taken so far.
func (c *Controller) Count() int {
	return c.count
}

// MaxRetries returns the configured retry budget.
func (c *Controller) MaxRetries() int {
	return c.max
}

// Reset clears the retry counter, e.g. when a new user turn starts.
func (c *Controller) Reset() {
	c.count = 0
}
