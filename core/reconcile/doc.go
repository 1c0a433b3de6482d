// Package reconcile implements the incremental change reconciliation engine:
// it keeps a materialized target table consistent with a continuously
// changing source, given change batches that may arrive out of order,
// duplicated, or replayed after failure.
//
// # Components
//
//   - Resolver: computes the committed cursor and the next extraction window,
//     polymorphic over the watermark Strategy (timestamp, integer, xmin,
//     composite, full snapshot).
//   - Dedupe: collapses a batch to one authoritative record per key
//     (last-writer-wins with a deterministic tie-break).
//   - Applier: the merge state machine deciding insert/update/delete/no-op
//     per record against current target state.
//   - Advancer: commits the new cursor through the watermark store's
//     compare-and-swap, only after a fully successful apply.
//   - Auditor: read-only drift comparator between source and target
//     aggregates.
//
// # Guarantees
//
// For a fixed key the applied commit sequence never decreases, re-applying
// an already-applied batch is a no-op, and a batch's effects plus its
// watermark advance commit as one logical unit: replays and crashes never
// corrupt the target or silently lose a delete.
//
// External collaborators (change extraction, watermark storage, the target
// table, dead-letter sinks, alerting) are injected as narrow interfaces;
// this package holds no connection handling of its own.
package reconcile
