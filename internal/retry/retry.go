package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config tunes Do. Zero values are filled in by Do itself, so a
// partially populated Config is usable.
type Config struct {
	// MaxAttempts bounds total attempts, the first included.
	MaxAttempts int

	// InitialDelay is the wait after the first failure; every further
	// failure multiplies it by Factor, up to MaxDelay.
	InitialDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Factor is the per-failure delay multiplier.
	Factor float64

	// Jitter spreads each wait over [0.5, 1.5) of the computed delay.
	Jitter bool
}

// DefaultConfig mirrors the Controller's budget: three attempts from
// BaseBackoff, doubling to a 10s ceiling, jittered.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxRetries,
		InitialDelay: BaseBackoff,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Do executes op, retrying transient failures with exponential backoff
// until it succeeds, returns a permanent error, exhausts the attempt
// budget, or the context ends. It returns the last error observed.
func Do(ctx context.Context, config Config, op func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = BaseBackoff
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Factor <= 0 {
		config.Factor = 2.0
	}

	delay := config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			// delay * [0.5, 1.5)
			jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
			sleep = time.Duration(float64(delay) * jitterFactor)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return lastErr
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
