// Package storage provides an abstraction layer for object storage services.
//
// It wraps the MinIO Go client behind the small surface the batch archive
// needs. The abstraction supports both AWS S3 and self-hosted MinIO
// instances, which is where failed change batches are archived.
//
// # Client Interface
//
// The Client interface abstracts the underlying storage provider, making it easier
// to mock storage interactions for unit testing (as seen in core/storage/mocks).
//
// # Operations
//
//   - BucketExists: Verifies access to the archive bucket.
//   - MakeBucket: Creates the archive bucket if needed.
//   - PutObject: Uploads a serialized batch (with size and options).
//
// # Usage
//
//	client, err := storage.NewClient(config)
//	exists, err := client.BucketExists(ctx, "cdc-archive")
package storage
