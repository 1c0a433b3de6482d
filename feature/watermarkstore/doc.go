// Package watermarkstore provides the gorm-backed implementation of the
// engine's WatermarkStore: one row per reconciled table, advanced only
// through a version-guarded compare-and-swap.
package watermarkstore
