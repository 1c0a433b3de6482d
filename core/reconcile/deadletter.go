package reconcile

import (
	"context"
	"time"
)

// DeadLetter is a record or batch that could not be safely applied and
// awaits manual remediation. A stalled table shows a non-advancing watermark
// and a growing dead-letter queue; that pairing is the designed operator
// signal, not a silent skip.
type DeadLetter struct {
	BatchID   string    `json:"batch_id"`
	TableID   string    `json:"table_id"`
	Key       Key       `json:"key"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadLetterSink receives records that cannot be applied.
type DeadLetterSink interface {
	Push(ctx context.Context, entries ...DeadLetter) error
}

// BatchArchiver optionally preserves a full failed batch for remediation,
// e.g. as a JSON object in external storage.
type BatchArchiver interface {
	ArchiveBatch(ctx context.Context, batch *ChangeBatch, executionID string) error
}
