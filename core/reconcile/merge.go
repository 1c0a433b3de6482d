package reconcile

import (
	"context"
	"fmt"
	"sort"

	"cdc-reconciler/core/retry"
	"cdc-reconciler/core/utils"

	"go.uber.org/zap"
)

// TargetStore is the materialized target table. The merge applier is its
// only writer. Upsert and Delete are conditional on the applied commit
// sequence so the store itself enforces last-writer-wins even if a stale
// write slips past the applier (defense in depth).
type TargetStore interface {
	// Fetch returns the current row for a key, or nil when absent.
	// Tombstoned rows are returned with Tombstoned set.
	Fetch(ctx context.Context, tableID string, key Key) (*TargetRow, error)

	// Upsert creates or replaces a row, conditioned on the stored applied
	// sequence not exceeding row.AppliedSeq.
	Upsert(ctx context.Context, tableID string, row TargetRow) error

	// Delete removes a row (or tombstones it when soft is true), conditioned
	// on the stored applied sequence being lower than seq.
	Delete(ctx context.Context, tableID string, key Key, seq Cursor, soft bool) error

	// Aggregate returns the live row count and max applied sequence.
	Aggregate(ctx context.Context, tableID string) (TargetAggregate, error)
}

// mergeOutcome is the decision for a single deduplicated record.
type mergeOutcome int

const (
	outcomeNoop mergeOutcome = iota
	outcomeInsert
	outcomeUpdate
	outcomeDelete
)

// decide is the merge state machine. By refusing to apply anything with a
// sequence at or below the row's applied sequence it makes replays of
// already-applied data safe no matter how often a batch is retried or how
// badly its records are reordered.
//
//	row absent  + I/U          -> insert
//	row absent  + D            -> no-op
//	row present + seq <= applied -> no-op (stale or replay)
//	row present + D, seq > applied -> delete
//	row present + I/U, seq > applied -> update
//
// The full-snapshot strategy adds one refinement: at an equal sequence a
// changed payload is still an update, because snapshot extraction has no
// per-row cursor movement and change detection falls to payload comparison.
func decide(strategy Strategy, fullSnapshot bool, row *TargetRow, rec ChangeRecord) mergeOutcome {
	if row == nil {
		if rec.Op == OpDelete {
			return outcomeNoop
		}
		return outcomeInsert
	}

	cmp := strategy.Compare(rec.CommitSeq, row.AppliedSeq)
	if cmp < 0 {
		return outcomeNoop
	}
	if cmp == 0 {
		if fullSnapshot && rec.Op != OpDelete && !payloadEqual(rec.Payload, row.Payload) {
			return outcomeUpdate
		}
		return outcomeNoop
	}

	if rec.Op == OpDelete {
		return outcomeDelete
	}
	return outcomeUpdate
}

// Applier applies deduplicated records to the target with deterministic,
// idempotent semantics.
type Applier struct {
	target TargetStore
	logger *zap.Logger
	policy retry.Policy
}

// NewApplier creates an applier over a target store.
func NewApplier(target TargetStore, logger *zap.Logger, policy retry.Policy) *Applier {
	return &Applier{target: target, logger: logger, policy: policy}
}

// Apply runs the merge state machine over a deduplicated batch. Records are
// processed in key order so the pass is deterministic. Schema mismatches are
// collected as record failures without blocking the rest of the batch;
// transient storage errors are retried and, once exhausted, abort the pass
// with the batch left pending.
//
// MaxApplied includes no-op records: a stale record was drained by an
// earlier apply, so its sequence still counts toward the advance cursor.
// Without this a fully replayed batch could never move the watermark.
func (a *Applier) Apply(ctx context.Context, spec TableSpec, strategy Strategy, records map[Key]ChangeRecord) (MergeResult, error) {
	var result MergeResult

	keys := make([]Key, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	fullSnapshot := spec.Strategy == StrategyFullSnapshot

	// The MaxApplied fold is seeded from the first processed record rather
	// than the zero cursor: under a circular cursor space half of the valid
	// ids order below zero, and folding against the sentinel would pin
	// MaxApplied at the epoch.
	maxSeeded := false

	for _, key := range keys {
		rec := records[key]

		if rec.Op != OpDelete {
			if reason := validatePayload(spec, rec); reason != "" {
				result.Failures = append(result.Failures, RecordFailure{Key: key, Reason: reason})
				continue
			}
		}

		var row *TargetRow
		err := a.policy.Do(ctx, IsTransient, func() error {
			var fetchErr error
			row, fetchErr = a.target.Fetch(ctx, spec.TableID, key)
			return fetchErr
		})
		if err != nil {
			return result, fmt.Errorf("fetch target row %q: %w", key, err)
		}

		outcome := decide(strategy, fullSnapshot, row, rec)
		switch outcome {
		case outcomeNoop:
			result.Noops++
		case outcomeInsert, outcomeUpdate:
			err = a.policy.Do(ctx, IsTransient, func() error {
				return a.target.Upsert(ctx, spec.TableID, TargetRow{
					Key:        key,
					Payload:    rec.Payload,
					AppliedSeq: rec.CommitSeq,
				})
			})
			if err != nil {
				return result, fmt.Errorf("upsert target row %q: %w", key, err)
			}
			if outcome == outcomeInsert {
				result.Inserted++
			} else {
				result.Updated++
			}
		case outcomeDelete:
			err = a.policy.Do(ctx, IsTransient, func() error {
				return a.target.Delete(ctx, spec.TableID, key, rec.CommitSeq, spec.SoftDelete)
			})
			if err != nil {
				return result, fmt.Errorf("delete target row %q: %w", key, err)
			}
			result.Deleted++
		}

		if !maxSeeded || strategy.Compare(rec.CommitSeq, result.MaxApplied) > 0 {
			result.MaxApplied = rec.CommitSeq
			maxSeeded = true
		}
	}

	a.logger.Debug("merge pass complete",
		zap.String("table", spec.TableID),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("noops", result.Noops),
		zap.Int("failures", len(result.Failures)))

	return result, nil
}

// validatePayload rejects payloads carrying columns the table does not know.
// Tables registered without an explicit column list accept any payload.
func validatePayload(spec TableSpec, rec ChangeRecord) string {
	if len(spec.Columns) == 0 {
		return ""
	}
	for col := range rec.Payload {
		if !spec.HasColumn(col) {
			return fmt.Sprintf("%v: unknown payload column %q", ErrSchemaMismatch, col)
		}
	}
	return ""
}

// payloadEqual compares payloads by canonical string value, tolerating the
// type drift between freshly scanned rows and JSON round-tripped state.
func payloadEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for col, val := range a {
		other, ok := b[col]
		if !ok || utils.ToString(val) != utils.ToString(other) {
			return false
		}
	}
	return true
}
