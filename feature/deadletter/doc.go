// Package deadletter persists records the merge applier could not apply and
// archives processed change batches to object storage for replay.
//
// The gorm-backed Sink implements reconcile.DeadLetterSink; the minio-backed
// Archiver implements reconcile.BatchArchiver, writing each batch as a JSON
// object keyed by table and load timestamp so archived batches sort
// chronologically under their table prefix.
package deadletter
