package deadletter

import (
	"context"
	"fmt"
	"time"

	"cdc-reconciler/core/reconcile"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// deadLetterRecord is the durable row shape for unapplied records.
type deadLetterRecord struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID   string    `gorm:"column:batch_id;index"`
	TableID   string    `gorm:"column:table_id;index"`
	RowKey    string    `gorm:"column:row_key"`
	Reason    string    `gorm:"column:reason"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName pins the storage table.
func (deadLetterRecord) TableName() string { return "dead_letters" }

// Sink is the gorm-backed dead letter sink.
type Sink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSink creates a sink over a database connection.
func NewSink(db *gorm.DB, logger *zap.Logger) *Sink {
	return &Sink{db: db, logger: logger}
}

// Migrate creates the dead letter table if it does not exist.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&deadLetterRecord{})
}

// Push persists the entries. Entries are appended, never updated; a record
// that fails across multiple runs shows up once per run.
func (s *Sink) Push(ctx context.Context, entries ...reconcile.DeadLetter) error {
	if len(entries) == 0 {
		return nil
	}

	recs := make([]deadLetterRecord, 0, len(entries))
	for _, entry := range entries {
		recs = append(recs, deadLetterRecord{
			BatchID:   entry.BatchID,
			TableID:   entry.TableID,
			RowKey:    string(entry.Key),
			Reason:    entry.Reason,
			CreatedAt: entry.CreatedAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&recs).Error; err != nil {
		return fmt.Errorf("push %d dead letters: %w", len(recs), err)
	}

	s.logger.Warn("dead-lettered records",
		zap.String("table", entries[0].TableID),
		zap.String("batch_id", entries[0].BatchID),
		zap.Int("count", len(recs)))
	return nil
}

// List returns the dead letters for a table, newest first.
func (s *Sink) List(ctx context.Context, tableID string, limit int) ([]reconcile.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	var recs []deadLetterRecord
	err := s.db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list dead letters for %s: %w", tableID, err)
	}

	entries := make([]reconcile.DeadLetter, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, reconcile.DeadLetter{
			BatchID:   rec.BatchID,
			TableID:   rec.TableID,
			Key:       reconcile.Key(rec.RowKey),
			Reason:    rec.Reason,
			CreatedAt: rec.CreatedAt,
		})
	}
	return entries, nil
}
