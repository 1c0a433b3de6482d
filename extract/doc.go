// Package extract implements the query-based change extractor: the external
// collaborator that turns source rows into change batches for the
// reconciliation engine.
//
// Extraction is watermark-bounded: the engine resolves a window and the
// extractor translates it into a SELECT over the source relation, aliasing
// the watermark column as the commit sequence and deriving the operation
// code (insert when the created-at column equals the watermark column,
// update otherwise, or a pass-through of an explicit operation column for
// CDC audit tables).
//
// The engine never depends on this package; it consumes the Extractor
// interface defined in core/reconcile. Log-based or file-based extractors
// can replace this one without touching the engine.
package extract
