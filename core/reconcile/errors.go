package reconcile

import (
	"context"
	"errors"
	"strings"
)

// Error taxonomy for reconciliation. Stale writes are deliberately not an
// error: refusing to apply an old record is the expected outcome of the
// monotonic-apply rule, so the applier counts it as a no-op instead.
var (
	// ErrTransientIO marks storage or source unavailability. Safe to retry
	// with backoff; the batch stays pending.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrSchemaMismatch marks a payload carrying a column the target table
	// does not know. The record is dead-lettered and the watermark does not
	// advance; remediation is manual.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrConcurrentReconciliation marks a lost compare-and-swap race: another
	// pass advanced the table first. The caller must re-resolve and retry.
	ErrConcurrentReconciliation = errors.New("concurrent reconciliation detected")

	// ErrWatermarkRegression marks an attempt to move a watermark backwards.
	// This indicates an upstream extraction bug and is never auto-corrected.
	ErrWatermarkRegression = errors.New("watermark regression")

	// ErrUnknownOperation marks an operation code outside the I/U/D vocabulary.
	ErrUnknownOperation = errors.New("unknown operation code")

	// ErrUnknownStrategy marks an unregistered watermark strategy name.
	ErrUnknownStrategy = errors.New("unknown watermark strategy")

	// ErrStrategyMismatch marks a stored watermark whose strategy differs
	// from the table's registered strategy.
	ErrStrategyMismatch = errors.New("watermark strategy mismatch")
)

// IsTransient reports whether an error is worth retrying. Besides the
// explicit sentinel it recognizes context deadlines and the usual transient
// driver message fragments.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientIO) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"unavailable",
		"too many connections",
		"deadlock",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
