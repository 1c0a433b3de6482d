package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Advancer durably commits the new cursor after a fully successful apply.
// The compare-and-swap on the state version is the sole concurrency-control
// mechanism: at most one advance commits per table per logical window, which
// is what makes the atomic window commit possible without a global lock.
type Advancer struct {
	store  WatermarkStore
	logger *zap.Logger
	now    func() time.Time
}

// NewAdvancer creates an advancer over a watermark store.
func NewAdvancer(store WatermarkStore, logger *zap.Logger) *Advancer {
	return &Advancer{store: store, logger: logger, now: time.Now}
}

// Advance computes the next cursor from the merge result and commits it,
// conditioned on the watermark version observed at resolution time.
//
// A computed cursor below the current one is a watermark regression: it
// indicates an upstream extraction bug and is surfaced as a fatal condition,
// never auto-corrected. A version mismatch means another pass advanced the
// table concurrently; the result is discarded and the caller must re-resolve.
func (a *Advancer) Advance(ctx context.Context, spec TableSpec, prev WatermarkState, window Window, result MergeResult, executionID string, duration time.Duration) (WatermarkState, error) {
	strategy, err := ForKind(spec.Strategy)
	if err != nil {
		return WatermarkState{}, err
	}

	next := strategy.AdvanceCursor(window, result.MaxApplied)
	if regressed(strategy, next, prev.Cursor) {
		a.logger.Error("refusing to move watermark backwards",
			zap.String("table", spec.TableID),
			zap.Int64("current", prev.Cursor.Primary),
			zap.Int64("computed", next.Primary))
		return WatermarkState{}, fmt.Errorf("%w: table %s, cursor %d -> %d",
			ErrWatermarkRegression, spec.TableID, prev.Cursor.Primary, next.Primary)
	}

	state := WatermarkState{
		TableID:     spec.TableID,
		Strategy:    spec.Strategy,
		Cursor:      next,
		Version:     prev.Version + 1,
		RowsApplied: int64(result.Applied()),
		ExecutionID: executionID,
		DurationMS:  duration.Milliseconds(),
		UpdatedAt:   a.now().UTC(),
	}

	if err := a.store.CompareAndSwap(ctx, prev.Version, state); err != nil {
		return WatermarkState{}, fmt.Errorf("advance watermark for %s: %w", spec.TableID, err)
	}

	a.logger.Info("watermark advanced",
		zap.String("table", spec.TableID),
		zap.Int64("cursor", state.Cursor.Primary),
		zap.Int64("version", state.Version),
		zap.Int64("rows_applied", state.RowsApplied))

	return state, nil
}

// regressed reports whether committing next would move the watermark
// backwards. The epoch sentinel sits below every real cursor in every
// strategy; circular comparison never applies to it, so a committed cursor
// can never slide back to the baseline.
func regressed(strategy Strategy, next, prev Cursor) bool {
	epoch := strategy.Epoch()
	if prev == epoch {
		return false
	}
	if next == epoch {
		return true
	}
	return strategy.Compare(next, prev) < 0
}
