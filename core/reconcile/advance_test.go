package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// memoryWatermarks is an in-memory WatermarkStore with the same
// compare-and-swap semantics as the gorm-backed store.
type memoryWatermarks struct {
	mu     sync.Mutex
	states map[string]WatermarkState
	gets   int
}

func newMemoryWatermarks() *memoryWatermarks {
	return &memoryWatermarks{states: make(map[string]WatermarkState)}
}

func (m *memoryWatermarks) Get(_ context.Context, tableID string) (*WatermarkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	state, ok := m.states[tableID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *memoryWatermarks) CompareAndSwap(_ context.Context, expectedVersion int64, state WatermarkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.states[state.TableID]
	if expectedVersion == 0 {
		if exists {
			return ErrConcurrentReconciliation
		}
		m.states[state.TableID] = state
		return nil
	}
	if !exists || current.Version != expectedVersion {
		return ErrConcurrentReconciliation
	}
	m.states[state.TableID] = state
	return nil
}

func TestAdvance_CommitsNextCursor(t *testing.T) {
	store := newMemoryWatermarks()
	advancer := NewAdvancer(store, zap.NewNop())
	spec := testSpec()

	prev := WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 100}, Version: 3}
	store.states[spec.TableID] = prev

	window := Window{Low: Cursor{Primary: 100}, High: maxCursor}
	result := MergeResult{Inserted: 5, MaxApplied: Cursor{Primary: 180}}

	state, err := advancer.Advance(context.Background(), spec, prev, window, result, "exec1234", 2*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, Cursor{Primary: 180}, state.Cursor)
	assert.Equal(t, int64(4), state.Version)
	assert.Equal(t, int64(5), state.RowsApplied)
	assert.Equal(t, "exec1234", state.ExecutionID)
	assert.Equal(t, int64(2000), state.DurationMS)
}

func TestAdvance_TimestampCommitsWindowHigh(t *testing.T) {
	store := newMemoryWatermarks()
	advancer := NewAdvancer(store, zap.NewNop())
	spec := testSpec()
	spec.Strategy = StrategyTimestamp

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	prev := WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: TimeCursor(now.Add(-time.Hour)), Version: 1}
	store.states[spec.TableID] = prev

	window := Window{Low: prev.Cursor, High: TimeCursor(now)}
	// Max applied lands mid-window; the commit still takes the upper bound.
	result := MergeResult{Updated: 2, MaxApplied: TimeCursor(now.Add(-10 * time.Minute))}

	state, err := advancer.Advance(context.Background(), spec, prev, window, result, "exec", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, TimeCursor(now), state.Cursor)
}

func TestAdvance_RegressionIsFatal(t *testing.T) {
	store := newMemoryWatermarks()
	advancer := NewAdvancer(store, zap.NewNop())
	spec := testSpec()

	prev := WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 500}, Version: 7}
	store.states[spec.TableID] = prev

	window := Window{Low: Cursor{Primary: 500}, High: maxCursor}
	result := MergeResult{Inserted: 1, MaxApplied: Cursor{Primary: 400}}

	_, err := advancer.Advance(context.Background(), spec, prev, window, result, "exec", time.Second)
	assert.ErrorIs(t, err, ErrWatermarkRegression)

	// Nothing committed.
	assert.Equal(t, Cursor{Primary: 500}, store.states[spec.TableID].Cursor)
	assert.Equal(t, int64(7), store.states[spec.TableID].Version)
}

func TestAdvance_LostRace(t *testing.T) {
	store := newMemoryWatermarks()
	advancer := NewAdvancer(store, zap.NewNop())
	spec := testSpec()

	prev := WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 100}, Version: 2}
	// Another pass already advanced to version 3.
	store.states[spec.TableID] = WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 150}, Version: 3}

	window := Window{Low: Cursor{Primary: 100}, High: maxCursor}
	result := MergeResult{Inserted: 1, MaxApplied: Cursor{Primary: 130}}

	_, err := advancer.Advance(context.Background(), spec, prev, window, result, "exec", time.Second)
	assert.ErrorIs(t, err, ErrConcurrentReconciliation)

	// The concurrent winner's state is untouched.
	assert.Equal(t, Cursor{Primary: 150}, store.states[spec.TableID].Cursor)
}

func TestResolver_EpochWhenNoWatermark(t *testing.T) {
	store := newMemoryWatermarks()
	resolver := NewResolver(store, zap.NewNop())
	spec := testSpec()

	state, window, err := resolver.Resolve(context.Background(), spec, Cursor{Primary: 999})
	assert.NoError(t, err)
	assert.True(t, state.Cursor.IsZero())
	assert.Equal(t, int64(0), state.Version)
	assert.True(t, window.Low.IsZero())
}

func TestResolver_StrategyMismatch(t *testing.T) {
	store := newMemoryWatermarks()
	resolver := NewResolver(store, zap.NewNop())
	spec := testSpec()

	store.states[spec.TableID] = WatermarkState{TableID: spec.TableID, Strategy: StrategyTimestamp, Cursor: Cursor{Primary: 10}, Version: 1}

	_, _, err := resolver.Resolve(context.Background(), spec, Cursor{})
	assert.ErrorIs(t, err, ErrStrategyMismatch)
}

func TestResolver_XminWraparoundFallsBackToEpoch(t *testing.T) {
	store := newMemoryWatermarks()
	resolver := NewResolver(store, zap.NewNop())
	spec := testSpec()
	spec.Strategy = StrategyXmin

	store.states[spec.TableID] = WatermarkState{TableID: spec.TableID, Strategy: StrategyXmin, Cursor: Cursor{Primary: 1000}, Version: 4}

	// Head more than half the modulus away: cursor can no longer be trusted.
	head := Cursor{Primary: 1000 + (int64(1)<<31 + 1)}
	state, window, err := resolver.Resolve(context.Background(), spec, head)
	assert.NoError(t, err)
	assert.True(t, state.Cursor.IsZero())
	assert.True(t, window.Low.IsZero())
	// The version survives so the eventual advance still CASes correctly.
	assert.Equal(t, int64(4), state.Version)
}

func TestResolver_CachesCommittedState(t *testing.T) {
	store := newMemoryWatermarks()
	resolver := NewResolver(store, zap.NewNop())
	spec := testSpec()

	store.states[spec.TableID] = WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 50}, Version: 1}

	_, _, err := resolver.Resolve(context.Background(), spec, Cursor{Primary: 60})
	assert.NoError(t, err)
	_, _, err = resolver.Resolve(context.Background(), spec, Cursor{Primary: 60})
	assert.NoError(t, err)
	assert.Equal(t, 1, store.gets)

	// Invalidation forces a fresh read.
	resolver.Invalidate(spec.TableID)
	_, _, err = resolver.Resolve(context.Background(), spec, Cursor{Primary: 60})
	assert.NoError(t, err)
	assert.Equal(t, 2, store.gets)
}

func TestAdvance_XminUpperHalfCommits(t *testing.T) {
	store := newMemoryWatermarks()
	advancer := NewAdvancer(store, zap.NewNop())
	spec := testSpec()
	spec.Strategy = StrategyXmin

	prev := WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 2_900_000_000}, Version: 5}
	store.states[spec.TableID] = prev

	window := Window{Low: prev.Cursor, High: maxCursor}
	result := MergeResult{Inserted: 1, MaxApplied: Cursor{Primary: 3_000_000_000}}

	state, err := advancer.Advance(context.Background(), spec, prev, window, result, "exec", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, Cursor{Primary: 3_000_000_000}, state.Cursor)
}

func TestAdvance_XminEpochResultIsRegression(t *testing.T) {
	store := newMemoryWatermarks()
	advancer := NewAdvancer(store, zap.NewNop())
	spec := testSpec()
	spec.Strategy = StrategyXmin

	prev := WatermarkState{TableID: spec.TableID, Strategy: spec.Strategy, Cursor: Cursor{Primary: 2_900_000_000}, Version: 5}
	store.states[spec.TableID] = prev

	// A zero computed cursor would rewind the table to the baseline. The
	// circular compare alone cannot catch this: zero orders "ahead of" an
	// upper-half cursor, so the epoch must be rejected absolutely.
	window := Window{Low: prev.Cursor, High: maxCursor}
	result := MergeResult{Inserted: 1, MaxApplied: Cursor{}}

	_, err := advancer.Advance(context.Background(), spec, prev, window, result, "exec", time.Second)
	assert.ErrorIs(t, err, ErrWatermarkRegression)

	// Nothing committed.
	assert.Equal(t, Cursor{Primary: 2_900_000_000}, store.states[spec.TableID].Cursor)
	assert.Equal(t, int64(5), store.states[spec.TableID].Version)
}
