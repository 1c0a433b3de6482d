package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy is an injectable retry policy: bounded attempts with exponential
// backoff and jitter. The zero value executes the operation exactly once.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the base delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Do runs op until it succeeds, the attempts are exhausted, the error is not
// retryable, or the context is done. The last error is returned.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}

		if attempt == attempts-1 || retryable == nil || !retryable(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(p.backoff(attempt)):
		}
	}
	return lastErr
}

// backoff computes the delay for an attempt: initial * 2^attempt, capped,
// with full jitter.
func (p Policy) backoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	max := p.MaxBackoff
	if max <= 0 {
		max = 5 * time.Second
	}

	d := float64(initial) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	return time.Duration(rand.Float64() * d)
}
