package targetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cdc-reconciler/core/reconcile"

	"gorm.io/gorm"
)

// targetRecord is the durable row shape for materialized target state.
type targetRecord struct {
	TableID          string    `gorm:"column:table_id;primaryKey"`
	RowKey           string    `gorm:"column:row_key;primaryKey"`
	Payload          string    `gorm:"column:payload;type:json"`
	AppliedPrimary   int64     `gorm:"column:applied_primary"`
	AppliedSecondary int64     `gorm:"column:applied_secondary"`
	Tombstoned       bool      `gorm:"column:tombstoned"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName pins the storage table.
func (targetRecord) TableName() string { return "target_rows" }

// Store is the gorm-backed target table. Every mutation carries the
// last-writer-wins predicate in its WHERE clause, so even a stale write
// issued by a buggy caller cannot move a row's applied sequence backwards.
type Store struct {
	db *gorm.DB
}

// New creates a store over a database connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the target table if it does not exist.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&targetRecord{})
}

// Fetch returns the current row for a key, or nil when absent.
func (s *Store) Fetch(ctx context.Context, tableID string, key reconcile.Key) (*reconcile.TargetRow, error) {
	var rec targetRecord
	err := s.db.WithContext(ctx).
		Where("table_id = ? AND row_key = ?", tableID, string(key)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch target row %q: %w", key, err)
	}

	row := reconcile.TargetRow{
		Key:        key,
		AppliedSeq: reconcile.Cursor{Primary: rec.AppliedPrimary, Secondary: rec.AppliedSecondary},
		Tombstoned: rec.Tombstoned,
	}
	if rec.Payload != "" {
		if err := json.Unmarshal([]byte(rec.Payload), &row.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %q: %w", key, err)
		}
	}
	return &row, nil
}

// Upsert creates or replaces a row. The update path is conditioned on the
// stored applied sequence not exceeding the incoming one. Equal sequences
// are allowed through: snapshot-sourced updates carry a constant sequence
// and rewriting identical state is idempotent anyway.
func (s *Store) Upsert(ctx context.Context, tableID string, row reconcile.TargetRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("encode payload for %q: %w", row.Key, err)
	}
	now := time.Now().UTC()

	res := s.db.WithContext(ctx).
		Model(&targetRecord{}).
		Where("table_id = ? AND row_key = ?", tableID, string(row.Key)).
		Where(upsertPredicate, row.AppliedSeq.Primary, row.AppliedSeq.Primary, row.AppliedSeq.Secondary).
		Updates(map[string]any{
			"payload":           string(payload),
			"applied_primary":   row.AppliedSeq.Primary,
			"applied_secondary": row.AppliedSeq.Secondary,
			"tombstoned":        false,
			"updated_at":        now,
		})
	if res.Error != nil {
		return fmt.Errorf("upsert target row %q: %w", row.Key, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// No row moved: either the key is absent (create it) or the stored
	// sequence already won (stale write, keep it a no-op).
	rec := targetRecord{
		TableID:          tableID,
		RowKey:           string(row.Key),
		Payload:          string(payload),
		AppliedPrimary:   row.AppliedSeq.Primary,
		AppliedSecondary: row.AppliedSeq.Secondary,
		UpdatedAt:        now,
	}
	err = s.db.WithContext(ctx).Create(&rec).Error
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert target row %q: %w", row.Key, err)
	}
	return nil
}

// Delete removes a row, or tombstones it when soft is true, conditioned on
// the stored applied sequence being lower than seq.
func (s *Store) Delete(ctx context.Context, tableID string, key reconcile.Key, seq reconcile.Cursor, soft bool) error {
	scope := s.db.WithContext(ctx).
		Where("table_id = ? AND row_key = ?", tableID, string(key)).
		Where(deletePredicate, seq.Primary, seq.Primary, seq.Secondary)

	var res *gorm.DB
	if soft {
		res = scope.Model(&targetRecord{}).Updates(map[string]any{
			"tombstoned":        true,
			"applied_primary":   seq.Primary,
			"applied_secondary": seq.Secondary,
			"updated_at":        time.Now().UTC(),
		})
	} else {
		res = scope.Delete(&targetRecord{})
	}
	if res.Error != nil {
		return fmt.Errorf("delete target row %q: %w", key, res.Error)
	}
	return nil
}

// Aggregate returns the live row count and max applied sequence, excluding
// tombstoned rows from the count so soft-deleted targets audit like hard
// ones.
func (s *Store) Aggregate(ctx context.Context, tableID string) (reconcile.TargetAggregate, error) {
	var agg struct {
		LiveRows     int64
		MaxPrimary   *int64
		MaxSecondary *int64
	}
	err := s.db.WithContext(ctx).
		Model(&targetRecord{}).
		Select("COUNT(CASE WHEN tombstoned = false THEN 1 END) AS live_rows, MAX(applied_primary) AS max_primary, MAX(applied_secondary) AS max_secondary").
		Where("table_id = ?", tableID).
		Scan(&agg).Error
	if err != nil {
		return reconcile.TargetAggregate{}, fmt.Errorf("aggregate target %s: %w", tableID, err)
	}

	result := reconcile.TargetAggregate{Rows: agg.LiveRows}
	if agg.MaxPrimary != nil {
		result.MaxApplied.Primary = *agg.MaxPrimary
	}
	if agg.MaxSecondary != nil {
		result.MaxApplied.Secondary = *agg.MaxSecondary
	}
	return result, nil
}

// Last-writer-wins guards attached to every write. Upserts admit equal
// sequences (snapshot rewrites are idempotent); deletes must strictly win.
const (
	upsertPredicate = "(applied_primary < ? OR (applied_primary = ? AND applied_secondary <= ?))"
	deletePredicate = "(applied_primary < ? OR (applied_primary = ? AND applied_secondary < ?))"
)

// isDuplicateKey recognizes the driver-specific unique violation without
// binding to a driver error type.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
