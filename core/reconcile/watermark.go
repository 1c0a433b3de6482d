package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// WatermarkStore is the durable per-table cursor store. Implementations must
// provide read-committed gets and an atomic compare-and-swap keyed on the
// state version.
type WatermarkStore interface {
	// Get returns the committed state for a table, or nil when no watermark
	// exists yet.
	Get(ctx context.Context, tableID string) (*WatermarkState, error)

	// CompareAndSwap writes state if the stored version still equals
	// expectedVersion. An expectedVersion of zero creates the state and
	// fails if one already exists. A lost race returns
	// ErrConcurrentReconciliation.
	CompareAndSwap(ctx context.Context, expectedVersion int64, state WatermarkState) error
}

// Resolver computes the reconciliation cursor and the next extraction window
// for a table. It keeps a read-only cache of the last resolved state; the
// cache is only an optimization because every advance re-validates the
// version through the store's compare-and-swap.
type Resolver struct {
	store  WatermarkStore
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]WatermarkState
	sf    singleflight.Group
}

// NewResolver creates a resolver over a watermark store.
func NewResolver(store WatermarkStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]WatermarkState),
	}
}

// Resolve returns the last committed watermark state and the window the next
// extraction should request. A table with no watermark resolves to the
// strategy's epoch sentinel, which forces a full baseline load. The head
// cursor is the newest commit sequence observed at the source; circular
// strategies use it to detect wraparound and fall back to a full reconcile.
func (r *Resolver) Resolve(ctx context.Context, spec TableSpec, head Cursor) (WatermarkState, Window, error) {
	strategy, err := ForKind(spec.Strategy)
	if err != nil {
		return WatermarkState{}, Window{}, err
	}

	state, err := r.load(ctx, spec.TableID)
	if err != nil {
		return WatermarkState{}, Window{}, err
	}

	if state == nil {
		fresh := WatermarkState{
			TableID:  spec.TableID,
			Strategy: spec.Strategy,
			Cursor:   strategy.Epoch(),
		}
		r.logger.Info("no watermark found, full baseline load",
			zap.String("table", spec.TableID),
			zap.String("strategy", string(spec.Strategy)))
		return fresh, strategy.Window(fresh.Cursor, r.now()), nil
	}

	if state.Strategy != spec.Strategy {
		return WatermarkState{}, Window{}, fmt.Errorf("%w: stored %s, registered %s",
			ErrStrategyMismatch, state.Strategy, spec.Strategy)
	}

	cursor := state.Cursor
	if strategy.NeedsBaseline(cursor, head) {
		r.logger.Warn("cursor space wraparound detected, forcing full reconcile",
			zap.String("table", spec.TableID),
			zap.Int64("cursor", cursor.Primary),
			zap.Int64("head", head.Primary))
		cursor = strategy.Epoch()
	}

	resolved := *state
	resolved.Cursor = cursor
	return resolved, strategy.Window(cursor, r.now()), nil
}

// Invalidate drops the cached state for a table. Callers do this after a
// lost compare-and-swap so the next resolve reads fresh committed state.
func (r *Resolver) Invalidate(tableID string) {
	r.mu.Lock()
	delete(r.cache, tableID)
	r.mu.Unlock()
}

// Remember caches the state committed by a successful advance.
func (r *Resolver) Remember(state WatermarkState) {
	r.mu.Lock()
	r.cache[state.TableID] = state
	r.mu.Unlock()
}

// load reads the committed state, going through the cache first and
// collapsing concurrent store reads for the same table.
func (r *Resolver) load(ctx context.Context, tableID string) (*WatermarkState, error) {
	r.mu.RLock()
	cached, ok := r.cache[tableID]
	r.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	v, err, _ := r.sf.Do(tableID, func() (any, error) {
		state, err := r.store.Get(ctx, tableID)
		if err != nil {
			return nil, err
		}
		if state != nil {
			r.Remember(*state)
		}
		return state, nil
	})
	if err != nil {
		return nil, err
	}
	state, _ := v.(*WatermarkState)
	return state, nil
}
