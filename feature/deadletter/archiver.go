package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Archiver writes processed change batches to object storage as JSON. Keys
// follow <table>/LOAD<yyyymmddhhmmss>_<execution>.json so objects list
// chronologically under their table prefix.
type Archiver struct {
	client storage.Client
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// NewArchiver creates an archiver over a storage client.
func NewArchiver(client storage.Client, bucket string, logger *zap.Logger) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureBucket creates the archive bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create archive bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ArchiveBatch uploads a batch snapshot. Archiving is best effort from the
// engine's point of view; a failed upload must not block the watermark
// advance, so callers log rather than abort on error.
func (a *Archiver) ArchiveBatch(ctx context.Context, batch *reconcile.ChangeBatch, executionID string) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.BatchID, err)
	}

	key := fmt.Sprintf("%s/LOAD%s_%s.json", batch.TableID, a.now().UTC().Format("20060102150405"), executionID)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("archive batch %s: %w", batch.BatchID, err)
	}

	a.logger.Debug("archived batch",
		zap.String("table", batch.TableID),
		zap.String("object", key),
		zap.Int("records", len(batch.Records)))
	return nil
}
