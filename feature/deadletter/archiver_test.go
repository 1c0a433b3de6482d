package deadletter_test

import (
	"context"
	"testing"

	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/core/storage/mocks"
	"cdc-reconciler/feature/deadletter"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func testBatch() *reconcile.ChangeBatch {
	return &reconcile.ChangeBatch{
		BatchID: "batch-1",
		TableID: "ORDERS_CDC",
		Status:  reconcile.BatchFailed,
		Records: []reconcile.ChangeRecord{
			{Key: "42", Op: reconcile.OpInsert, CommitSeq: reconcile.Cursor{Primary: 10}, Payload: map[string]any{"order_id": 42}},
		},
	}
}

func TestArchiveBatch(t *testing.T) {
	mockClient := new(mocks.Client)
	mockClient.On("PutObject", mock.Anything, "cdc-archive", mock.MatchedBy(func(key string) bool {
		// Keys group by table and sort chronologically: ORDERS_CDC/LOAD<ts>_<exec>.json
		return len(key) > len("ORDERS_CDC/LOAD") && key[:len("ORDERS_CDC/LOAD")] == "ORDERS_CDC/LOAD"
	}), mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)

	archiver := deadletter.NewArchiver(mockClient, "cdc-archive", zap.NewNop())
	err := archiver.ArchiveBatch(context.Background(), testBatch(), "exec1234")
	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestEnsureBucket(t *testing.T) {
	t.Run("Already Exists", func(t *testing.T) {
		mockClient := new(mocks.Client)
		mockClient.On("BucketExists", mock.Anything, "cdc-archive").Return(true, nil)

		archiver := deadletter.NewArchiver(mockClient, "cdc-archive", zap.NewNop())
		assert.NoError(t, archiver.EnsureBucket(context.Background()))
		mockClient.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Created On Demand", func(t *testing.T) {
		mockClient := new(mocks.Client)
		mockClient.On("BucketExists", mock.Anything, "cdc-archive").Return(false, nil)
		mockClient.On("MakeBucket", mock.Anything, "cdc-archive", mock.Anything).Return(nil)

		archiver := deadletter.NewArchiver(mockClient, "cdc-archive", zap.NewNop())
		assert.NoError(t, archiver.EnsureBucket(context.Background()))
		mockClient.AssertExpectations(t)
	})
}
