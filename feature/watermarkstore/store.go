package watermarkstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cdc-reconciler/core/reconcile"

	"gorm.io/gorm"
)

// watermarkRecord is the durable row shape for per-table cursor state.
type watermarkRecord struct {
	TableID         string    `gorm:"column:table_id;primaryKey"`
	Strategy        string    `gorm:"column:strategy"`
	CursorPrimary   int64     `gorm:"column:cursor_primary"`
	CursorSecondary int64     `gorm:"column:cursor_secondary"`
	Version         int64     `gorm:"column:version"`
	RowsApplied     int64     `gorm:"column:rows_applied"`
	ExecutionID     string    `gorm:"column:execution_id"`
	DurationMS      int64     `gorm:"column:duration_ms"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName pins the storage table.
func (watermarkRecord) TableName() string { return "watermark_states" }

// Store is the gorm-backed watermark store. Writes go through an optimistic
// compare-and-swap on the version column so at most one advance commits per
// table per logical window.
type Store struct {
	db *gorm.DB
}

// New creates a store over a database connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the watermark table if it does not exist.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&watermarkRecord{})
}

// Get returns the committed state for a table, or nil when none exists.
func (s *Store) Get(ctx context.Context, tableID string) (*reconcile.WatermarkState, error) {
	var rec watermarkRecord
	err := s.db.WithContext(ctx).Where("table_id = ?", tableID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark for %s: %w", tableID, err)
	}

	state := toState(rec)
	return &state, nil
}

// CompareAndSwap writes state conditioned on the stored version matching
// expectedVersion. Version zero creates the row and fails if one already
// exists, so a concurrent first run cannot overwrite an established
// watermark.
func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, state reconcile.WatermarkState) error {
	rec := fromState(state)

	if expectedVersion == 0 {
		err := s.db.WithContext(ctx).Create(&rec).Error
		if err != nil && isDuplicateKey(err) {
			return fmt.Errorf("create watermark for %s: %w", state.TableID, reconcile.ErrConcurrentReconciliation)
		}
		if err != nil {
			return fmt.Errorf("create watermark for %s: %w", state.TableID, err)
		}
		return nil
	}

	res := s.db.WithContext(ctx).
		Model(&watermarkRecord{}).
		Where("table_id = ? AND version = ?", state.TableID, expectedVersion).
		Updates(map[string]any{
			"strategy":         rec.Strategy,
			"cursor_primary":   rec.CursorPrimary,
			"cursor_secondary": rec.CursorSecondary,
			"version":          rec.Version,
			"rows_applied":     rec.RowsApplied,
			"execution_id":     rec.ExecutionID,
			"duration_ms":      rec.DurationMS,
			"updated_at":       rec.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("advance watermark for %s: %w", state.TableID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("advance watermark for %s: %w", state.TableID, reconcile.ErrConcurrentReconciliation)
	}
	return nil
}

// List returns all committed watermark states, ordered by table id.
func (s *Store) List(ctx context.Context) ([]reconcile.WatermarkState, error) {
	var recs []watermarkRecord
	if err := s.db.WithContext(ctx).Order("table_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	states := make([]reconcile.WatermarkState, 0, len(recs))
	for _, rec := range recs {
		states = append(states, toState(rec))
	}
	return states, nil
}

func toState(rec watermarkRecord) reconcile.WatermarkState {
	return reconcile.WatermarkState{
		TableID:     rec.TableID,
		Strategy:    reconcile.StrategyKind(rec.Strategy),
		Cursor:      reconcile.Cursor{Primary: rec.CursorPrimary, Secondary: rec.CursorSecondary},
		Version:     rec.Version,
		RowsApplied: rec.RowsApplied,
		ExecutionID: rec.ExecutionID,
		DurationMS:  rec.DurationMS,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func fromState(state reconcile.WatermarkState) watermarkRecord {
	return watermarkRecord{
		TableID:         state.TableID,
		Strategy:        string(state.Strategy),
		CursorPrimary:   state.Cursor.Primary,
		CursorSecondary: state.Cursor.Secondary,
		Version:         state.Version,
		RowsApplied:     state.RowsApplied,
		ExecutionID:     state.ExecutionID,
		DurationMS:      state.DurationMS,
		UpdatedAt:       state.UpdatedAt,
	}
}

// isDuplicateKey recognizes the driver-specific unique violation without
// binding to a driver error type.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
