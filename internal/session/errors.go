package session

import "errors"

// Sentinel errors for session runs
var (
	// ErrCancelled indicates the cancellation token was set.
	ErrCancelled = errors.New("session cancelled")

	// ErrMaxIterations indicates the tool-use loop exceeded its
	// iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrDoomLoop indicates the processor flagged runaway tool
	// repetition; not retried.
	ErrDoomLoop = errors.New("doom loop detected")

	// ErrRetriesExhausted indicates the retry budget ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")
)
