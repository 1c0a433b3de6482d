package httpapi

import (
	"context"
	"errors"
	"fmt"

	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/feature/deadletter"
	"cdc-reconciler/feature/watermarkstore"

	"go.uber.org/zap"
)

// Service implements the operational endpoints' behavior.
type Service struct {
	engine     *reconcile.Engine
	auditor    *reconcile.Auditor
	watermarks *watermarkstore.Store
	letters    *deadletter.Sink
	specs      map[string]reconcile.TableSpec
	logger     *zap.Logger
}

// NewService creates the service over the engine and its stores.
func NewService(
	engine *reconcile.Engine,
	auditor *reconcile.Auditor,
	watermarks *watermarkstore.Store,
	letters *deadletter.Sink,
	specs []reconcile.TableSpec,
	logger *zap.Logger,
) *Service {
	byID := make(map[string]reconcile.TableSpec, len(specs))
	for _, spec := range specs {
		byID[spec.TableID] = spec
	}
	return &Service{
		engine:     engine,
		auditor:    auditor,
		watermarks: watermarks,
		letters:    letters,
		specs:      byID,
		logger:     logger,
	}
}

// ErrUnknownTable is returned for table ids that were never registered.
var ErrUnknownTable = errors.New("table is not registered")

// spec resolves a registered table, erroring on unknown ids so handlers can
// return 404 instead of running against a phantom table.
func (s *Service) spec(tableID string) (reconcile.TableSpec, error) {
	spec, ok := s.specs[tableID]
	if !ok {
		return reconcile.TableSpec{}, fmt.Errorf("%s: %w", tableID, ErrUnknownTable)
	}
	return spec, nil
}

// ListWatermarks returns all committed watermark states.
func (s *Service) ListWatermarks(ctx context.Context) ([]reconcile.WatermarkState, error) {
	return s.watermarks.List(ctx)
}

// GetWatermark returns one table's watermark state, or nil when the table
// has never been reconciled.
func (s *Service) GetWatermark(ctx context.Context, tableID string) (*reconcile.WatermarkState, error) {
	if _, err := s.spec(tableID); err != nil {
		return nil, err
	}
	return s.watermarks.Get(ctx, tableID)
}

// Audit runs a read-only drift audit for a table.
func (s *Service) Audit(ctx context.Context, tableID string) (reconcile.Drift, error) {
	spec, err := s.spec(tableID)
	if err != nil {
		return reconcile.Drift{}, err
	}
	return s.auditor.Audit(ctx, spec)
}

// ListDeadLetters returns a table's recent dead-lettered records.
func (s *Service) ListDeadLetters(ctx context.Context, tableID string, limit int) ([]reconcile.DeadLetter, error) {
	if _, err := s.spec(tableID); err != nil {
		return nil, err
	}
	return s.letters.List(ctx, tableID, limit)
}

// Reconcile triggers one pass for a table.
func (s *Service) Reconcile(ctx context.Context, tableID string, opts reconcile.RunOptions) (*reconcile.RunReport, error) {
	spec, err := s.spec(tableID)
	if err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, spec, opts)
}
