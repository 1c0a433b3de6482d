// Package httpapi exposes the reconciler's operational surface over HTTP.
//
// # Endpoints
//
//   - GET  /watermarks: all committed watermark states.
//   - GET  /watermarks/:table: one table's watermark state.
//   - GET  /audit/:table: run a drift audit (read-only).
//   - GET  /deadletters/:table: recent dead-lettered records.
//   - POST /reconcile/:table: trigger a pass (?force_full=1, ?dry_run=1).
//
// The feature follows the loader pattern: it registers its routes when
// loaded and owns a service layer that delegates to the engine, auditor,
// and stores.
package httpapi
