package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdc-reconciler/core/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Extractor is the external collaborator that produces change batches. The
// engine does not care how the rows were physically produced (query scan,
// log-based capture, or full dump); it only consumes the batch shape.
type Extractor interface {
	// Extract produces the change batch for a table and window.
	Extract(ctx context.Context, spec TableSpec, window Window) (*ChangeBatch, error)

	// Head returns the newest commit sequence at the source and the source
	// row count. The resolver uses the head for wraparound detection and the
	// auditor for drift measurement.
	Head(ctx context.Context, spec TableSpec) (Cursor, int64, error)
}

// RunOptions tweaks a single reconciliation pass.
type RunOptions struct {
	// ForceFull ignores the committed watermark and reconciles from the
	// strategy epoch.
	ForceFull bool

	// DryRun extracts and deduplicates but writes nothing and never
	// advances the watermark.
	DryRun bool
}

// RunReport summarizes one reconciliation pass.
type RunReport struct {
	TableID      string        `json:"table_id"`
	ExecutionID  string        `json:"execution_id"`
	BatchID      string        `json:"batch_id,omitempty"`
	Extracted    int           `json:"extracted"`
	Deduplicated int           `json:"deduplicated"`
	Result       MergeResult   `json:"result"`
	Cursor       Cursor        `json:"cursor"`
	Advanced     bool          `json:"advanced"`
	DryRun       bool          `json:"dry_run"`
	Duration     time.Duration `json:"duration"`
	Message      string        `json:"message,omitempty"`
}

// Engine wires resolver, extractor, deduplicator, applier and advancer into
// one reconciliation pass per table. Passes for distinct tables are fully
// independent; passes for the same table are serialized only by the
// watermark compare-and-swap, which acts as a lease.
type Engine struct {
	resolver    *Resolver
	extractor   Extractor
	applier     *Applier
	advancer    *Advancer
	deadLetters DeadLetterSink
	archiver    BatchArchiver
	logger      *zap.Logger
	policy      retry.Policy
	now         func() time.Time
}

// NewEngine assembles an engine. The archiver may be nil; dead letters then
// only reach the sink.
func NewEngine(
	resolver *Resolver,
	extractor Extractor,
	applier *Applier,
	advancer *Advancer,
	deadLetters DeadLetterSink,
	archiver BatchArchiver,
	logger *zap.Logger,
	policy retry.Policy,
) *Engine {
	return &Engine{
		resolver:    resolver,
		extractor:   extractor,
		applier:     applier,
		advancer:    advancer,
		deadLetters: deadLetters,
		archiver:    archiver,
		logger:      logger,
		policy:      policy,
		now:         time.Now,
	}
}

// Run executes one reconciliation pass: resolve -> extract -> dedupe ->
// apply -> advance. Cancellation is safe at any point before the advance
// commits; anything not yet committed is redoable because every apply is
// idempotent.
//
// A batch with non-transient record failures is dead-lettered and the
// watermark does not advance (atomic window commit): the whole window either
// drains or stays open.
func (e *Engine) Run(ctx context.Context, spec TableSpec, opts RunOptions) (*RunReport, error) {
	start := e.now()
	executionID := uuid.NewString()
	report := &RunReport{TableID: spec.TableID, ExecutionID: executionID, DryRun: opts.DryRun}

	// The state and the report carry the full id; log fields only the short
	// prefix.
	log := e.logger.With(
		zap.String("table", spec.TableID),
		zap.String("execution_id", executionID[:8]))

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ForKind(spec.Strategy)
	if err != nil {
		return nil, err
	}

	var head Cursor
	var sourceRows int64
	err = e.policy.Do(ctx, IsTransient, func() error {
		var headErr error
		head, sourceRows, headErr = e.extractor.Head(ctx, spec)
		return headErr
	})
	if err != nil {
		return nil, fmt.Errorf("probe source head for %s: %w", spec.TableID, err)
	}

	state, window, err := e.resolver.Resolve(ctx, spec, head)
	if err != nil {
		return nil, err
	}
	if opts.ForceFull {
		log.Info("force full reconcile requested, ignoring committed watermark")
		state.Cursor = strategy.Epoch()
		window = strategy.Window(state.Cursor, e.now())
	}
	report.Cursor = state.Cursor

	if e.nothingToDo(strategy, spec, state.Cursor, head, sourceRows) {
		report.Duration = e.now().Sub(start)
		report.Message = "no new rows to reconcile"
		log.Info("nothing to reconcile", zap.Int64("source_rows", sourceRows))
		return report, nil
	}

	var batch *ChangeBatch
	err = e.policy.Do(ctx, IsTransient, func() error {
		var exErr error
		batch, exErr = e.extractor.Extract(ctx, spec, window)
		return exErr
	})
	if err != nil {
		return nil, fmt.Errorf("extract window for %s: %w", spec.TableID, err)
	}
	batch.Status = BatchPending
	report.BatchID = batch.BatchID
	report.Extracted = len(batch.Records)

	deduped := Dedupe(strategy, batch)
	report.Deduplicated = len(deduped)
	log.Info("batch extracted",
		zap.String("batch_id", batch.BatchID),
		zap.Int("records", len(batch.Records)),
		zap.Int("deduplicated", len(deduped)))

	if opts.DryRun {
		report.Duration = e.now().Sub(start)
		report.Message = "dry run: nothing applied"
		log.Info("dry run complete", zap.Int("would_apply", len(deduped)))
		return report, nil
	}

	result, err := e.applier.Apply(ctx, spec, strategy, deduped)
	report.Result = result
	if err != nil {
		// Batch stays pending: the window is still open and the next pass
		// redoes it idempotently.
		return report, err
	}

	if len(result.Failures) > 0 {
		batch.Status = BatchFailed
		e.deadLetter(ctx, batch, result.Failures, executionID, log)
		report.Duration = e.now().Sub(start)
		return report, fmt.Errorf("batch %s for %s: %d record(s) dead-lettered, watermark not advanced: %w",
			batch.BatchID, spec.TableID, len(result.Failures), ErrSchemaMismatch)
	}

	if result.Applied() == 0 && result.Noops == 0 {
		report.Duration = e.now().Sub(start)
		report.Message = "empty batch, watermark unchanged"
		return report, nil
	}

	newState, err := e.advancer.Advance(ctx, spec, state, window, result, executionID, e.now().Sub(start))
	if err != nil {
		if isConcurrent(err) {
			e.resolver.Invalidate(spec.TableID)
		}
		return report, err
	}
	e.resolver.Remember(newState)

	batch.Status = BatchApplied
	report.Cursor = newState.Cursor
	report.Advanced = true
	report.Duration = e.now().Sub(start)

	log.Info("reconciliation pass complete",
		zap.Int("applied", result.Applied()),
		zap.Int("noops", result.Noops),
		zap.Int64("cursor", newState.Cursor.Primary),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// RunAll runs one pass per table in parallel. Tables share no mutable state,
// so a failing table never blocks the others; the first error is returned
// after all passes finish.
func (e *Engine) RunAll(ctx context.Context, specs []TableSpec, opts RunOptions) ([]*RunReport, error) {
	reports := make([]*RunReport, len(specs))
	errs := make([]error, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec TableSpec) {
			defer wg.Done()
			reports[i], errs[i] = e.Run(ctx, spec, opts)
		}(i, spec)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// nothingToDo short-circuits a pass when the source has nothing past the
// cursor. Full snapshots always run unless the source is empty and the
// target was never loaded.
func (e *Engine) nothingToDo(strategy Strategy, spec TableSpec, cursor, head Cursor, sourceRows int64) bool {
	if spec.Strategy == StrategyFullSnapshot {
		return false
	}
	if sourceRows == 0 {
		return true
	}
	if cursor == strategy.Epoch() {
		return false
	}
	return strategy.Compare(head, cursor) <= 0
}

// deadLetter pushes record failures to the sink and archives the batch when
// an archiver is configured. Sink failures are logged, never swallowed into
// a watermark advance.
func (e *Engine) deadLetter(ctx context.Context, batch *ChangeBatch, failures []RecordFailure, executionID string, log *zap.Logger) {
	entries := make([]DeadLetter, 0, len(failures))
	now := e.now().UTC()
	for _, f := range failures {
		entries = append(entries, DeadLetter{
			BatchID:   batch.BatchID,
			TableID:   batch.TableID,
			Key:       f.Key,
			Reason:    f.Reason,
			CreatedAt: now,
		})
	}

	if e.deadLetters != nil {
		if err := e.deadLetters.Push(ctx, entries...); err != nil {
			log.Error("failed to push dead letters", zap.Error(err))
		}
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveBatch(ctx, batch, executionID); err != nil {
			log.Error("failed to archive failed batch", zap.Error(err))
		}
	}
}

func isConcurrent(err error) bool {
	return errors.Is(err, ErrConcurrentReconciliation)
}
