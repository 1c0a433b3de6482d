// Package retry provides the injectable retry policy used around target
// storage and watermark store I/O.
//
// A Policy is a plain value (max attempts, backoff curve) passed by
// dependency, replacing inline sleep loops. Callers decide which errors are
// retryable by supplying a classifier; the policy only schedules attempts.
package retry
