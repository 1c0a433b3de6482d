package reconcile

import (
	"context"
	"testing"

	"cdc-reconciler/core/retry"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeExtractor serves a canned batch and head probe.
type fakeExtractor struct {
	head         Cursor
	sourceRows   int64
	records      []ChangeRecord
	extractCalls int
}

func (f *fakeExtractor) Head(_ context.Context, _ TableSpec) (Cursor, int64, error) {
	return f.head, f.sourceRows, nil
}

func (f *fakeExtractor) Extract(_ context.Context, spec TableSpec, window Window) (*ChangeBatch, error) {
	f.extractCalls++
	return &ChangeBatch{
		BatchID: "batch-test",
		TableID: spec.TableID,
		Window:  window,
		Records: f.records,
		Status:  BatchPending,
	}, nil
}

// recordingSink collects pushed dead letters.
type recordingSink struct {
	entries []DeadLetter
}

func (s *recordingSink) Push(_ context.Context, entries ...DeadLetter) error {
	s.entries = append(s.entries, entries...)
	return nil
}

type engineHarness struct {
	engine     *Engine
	extractor  *fakeExtractor
	target     *memoryTarget
	watermarks *memoryWatermarks
	sink       *recordingSink
}

func newEngineHarness(extractor *fakeExtractor) *engineHarness {
	logg := zap.NewNop()
	policy := retry.Policy{MaxAttempts: 2}
	target := newMemoryTarget()
	watermarks := newMemoryWatermarks()
	sink := &recordingSink{}

	engine := NewEngine(
		NewResolver(watermarks, logg),
		extractor,
		NewApplier(target, logg, policy),
		NewAdvancer(watermarks, logg),
		sink,
		nil,
		logg,
		policy,
	)
	return &engineHarness{engine: engine, extractor: extractor, target: target, watermarks: watermarks, sink: sink}
}

func TestEngineRun_BaselineThenIncremental(t *testing.T) {
	spec := testSpec()
	extractor := &fakeExtractor{
		head:       Cursor{Primary: 20},
		sourceRows: 2,
		records: []ChangeRecord{
			{Key: "1", Op: OpInsert, CommitSeq: Cursor{Primary: 10}, Payload: map[string]any{"order_id": 1, "status": "new"}},
			{Key: "2", Op: OpInsert, CommitSeq: Cursor{Primary: 20}, Payload: map[string]any{"order_id": 2, "status": "new"}},
		},
	}
	h := newEngineHarness(extractor)

	report, err := h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)
	assert.True(t, report.Advanced)
	assert.Equal(t, 2, report.Result.Inserted)
	assert.Equal(t, Cursor{Primary: 20}, report.Cursor)
	assert.Equal(t, int64(1), h.watermarks.states[spec.TableID].Version)
	// The committed state carries the full execution uuid.
	assert.Len(t, report.ExecutionID, 36)
	assert.Equal(t, report.ExecutionID, h.watermarks.states[spec.TableID].ExecutionID)

	// Second pass with nothing new: short-circuits before extraction.
	report, err = h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)
	assert.False(t, report.Advanced)
	assert.Equal(t, "no new rows to reconcile", report.Message)
	assert.Equal(t, 1, extractor.extractCalls)

	// New rows past the cursor trigger an incremental pass.
	extractor.head = Cursor{Primary: 30}
	extractor.records = []ChangeRecord{
		{Key: "1", Op: OpUpdate, CommitSeq: Cursor{Primary: 30}, Payload: map[string]any{"order_id": 1, "status": "paid"}},
	}
	report, err = h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)
	assert.True(t, report.Advanced)
	assert.Equal(t, Cursor{Primary: 30}, report.Cursor)
	assert.Equal(t, int64(2), h.watermarks.states[spec.TableID].Version)

	row, _ := h.target.row(spec.TableID, "1")
	assert.Equal(t, "paid", row.Payload["status"])
}

func TestEngineRun_ReplayedBatchStillAdvances(t *testing.T) {
	spec := testSpec()
	extractor := &fakeExtractor{
		head:       Cursor{Primary: 10},
		sourceRows: 1,
		records: []ChangeRecord{
			{Key: "1", Op: OpInsert, CommitSeq: Cursor{Primary: 10}, Payload: map[string]any{"order_id": 1}},
		},
	}
	h := newEngineHarness(extractor)

	_, err := h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)

	// Simulate a crash after apply but before the advance committed: the
	// watermark is rolled back while the target already holds the data.
	h.watermarks.states[spec.TableID] = WatermarkState{
		TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{}, Version: 1,
	}
	h.engine.resolver.Invalidate(spec.TableID)

	report, err := h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)
	// Everything replays as no-ops, yet the watermark still moves.
	assert.Equal(t, 0, report.Result.Applied())
	assert.Equal(t, 1, report.Result.Noops)
	assert.True(t, report.Advanced)
	assert.Equal(t, Cursor{Primary: 10}, report.Cursor)
}

func TestEngineRun_DryRunWritesNothing(t *testing.T) {
	spec := testSpec()
	extractor := &fakeExtractor{
		head:       Cursor{Primary: 10},
		sourceRows: 1,
		records: []ChangeRecord{
			{Key: "1", Op: OpInsert, CommitSeq: Cursor{Primary: 10}, Payload: map[string]any{"order_id": 1}},
		},
	}
	h := newEngineHarness(extractor)

	report, err := h.engine.Run(context.Background(), spec, RunOptions{DryRun: true})
	assert.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.False(t, report.Advanced)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Equal(t, 0, h.target.upserts)
	assert.Empty(t, h.watermarks.states)
}

func TestEngineRun_SchemaMismatchBlocksAdvance(t *testing.T) {
	spec := testSpec()
	extractor := &fakeExtractor{
		head:       Cursor{Primary: 20},
		sourceRows: 2,
		records: []ChangeRecord{
			{Key: "1", Op: OpInsert, CommitSeq: Cursor{Primary: 10}, Payload: map[string]any{"order_id": 1}},
			{Key: "2", Op: OpInsert, CommitSeq: Cursor{Primary: 20}, Payload: map[string]any{"order_id": 2, "rogue": "x"}},
		},
	}
	h := newEngineHarness(extractor)

	_, err := h.engine.Run(context.Background(), spec, RunOptions{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	// The bad record is dead-lettered and the watermark never moves, so the
	// window is retried wholesale after remediation.
	assert.Len(t, h.sink.entries, 1)
	assert.Equal(t, Key("2"), h.sink.entries[0].Key)
	assert.Empty(t, h.watermarks.states)
}

func TestEngineRun_ForceFullRebuildsFromEpoch(t *testing.T) {
	spec := testSpec()
	extractor := &fakeExtractor{
		head:       Cursor{Primary: 20},
		sourceRows: 2,
		records: []ChangeRecord{
			{Key: "1", Op: OpInsert, CommitSeq: Cursor{Primary: 10}, Payload: map[string]any{"order_id": 1}},
			{Key: "2", Op: OpInsert, CommitSeq: Cursor{Primary: 20}, Payload: map[string]any{"order_id": 2}},
		},
	}
	h := newEngineHarness(extractor)

	_, err := h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 1, extractor.extractCalls)

	// A normal pass would short-circuit; force-full re-extracts everything.
	report, err := h.engine.Run(context.Background(), spec, RunOptions{ForceFull: true})
	assert.NoError(t, err)
	assert.Equal(t, 2, extractor.extractCalls)
	assert.Equal(t, 2, report.Result.Noops)
	assert.True(t, report.Advanced)
}

func TestEngineRun_EmptySourceShortCircuits(t *testing.T) {
	spec := testSpec()
	extractor := &fakeExtractor{head: Cursor{}, sourceRows: 0}
	h := newEngineHarness(extractor)

	report, err := h.engine.Run(context.Background(), spec, RunOptions{})
	assert.NoError(t, err)
	assert.False(t, report.Advanced)
	assert.Equal(t, 0, extractor.extractCalls)
	assert.Equal(t, "no new rows to reconcile", report.Message)
}

func TestEngineRunAll_IndependentTables(t *testing.T) {
	extractor := &fakeExtractor{
		head:       Cursor{Primary: 10},
		sourceRows: 1,
		records: []ChangeRecord{
			{Key: "1", Op: OpInsert, CommitSeq: Cursor{Primary: 10}, Payload: map[string]any{"order_id": 1}},
		},
	}
	h := newEngineHarness(extractor)

	specA := testSpec()
	specB := testSpec()
	specB.TableID = "INVOICES_CDC"
	specB.SourceTable = "invoices"

	reports, err := h.engine.RunAll(context.Background(), []TableSpec{specA, specB}, RunOptions{})
	assert.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.True(t, reports[0].Advanced)
	assert.True(t, reports[1].Advanced)
	assert.Len(t, h.watermarks.states, 2)
}
