package reconcile

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OperationKind is the closed set of change operations a source can emit.
type OperationKind int

const (
	// OpInsert indicates a newly created source row.
	OpInsert OperationKind = iota
	// OpUpdate indicates a modified source row.
	OpUpdate
	// OpDelete indicates a removed source row. Delete records carry no payload.
	OpDelete
)

// String returns the single-letter wire code for the operation.
func (k OperationKind) String() string {
	switch k {
	case OpInsert:
		return "I"
	case OpUpdate:
		return "U"
	case OpDelete:
		return "D"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// ParseOperation maps the wire vocabulary ("I", "U", "D") to an OperationKind.
// Unknown codes are rejected so invalid strings never reach the applier.
func ParseOperation(code string) (OperationKind, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "I":
		return OpInsert, nil
	case "U":
		return OpUpdate, nil
	case "D":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, code)
	}
}

// keySeparator joins primary-key parts into a canonical Key.
// The unit separator cannot appear in normal column values.
const keySeparator = "\x1f"

// Key is the canonical encoding of an ordered primary-key tuple.
// Records for the same entity always produce the same Key regardless of
// which batch or extraction produced them.
type Key string

// MakeKey builds a Key from the ordered primary-key column values.
func MakeKey(parts ...string) Key {
	return Key(strings.Join(parts, keySeparator))
}

// Parts splits the Key back into its ordered column values.
func (k Key) Parts() []string {
	return strings.Split(string(k), keySeparator)
}

// Cursor is a point in a table's cursor space. All strategies map their
// ordering key into this pair: timestamps use UnixMicro in Primary,
// integer and transaction ids use Primary alone, and composite strategies
// use both fields lexicographically.
type Cursor struct {
	Primary   int64
	Secondary int64
}

// TimeCursor maps a timestamp into cursor space.
func TimeCursor(t time.Time) Cursor {
	if t.IsZero() {
		return Cursor{}
	}
	return Cursor{Primary: t.UnixMicro()}
}

// Time maps the cursor back to a timestamp. Only meaningful for the
// timestamp strategy.
func (c Cursor) Time() time.Time {
	if c.Primary == 0 {
		return time.Time{}
	}
	return time.UnixMicro(c.Primary).UTC()
}

// IsZero reports whether the cursor is the zero value (the epoch for most
// strategies).
func (c Cursor) IsZero() bool {
	return c.Primary == 0 && c.Secondary == 0
}

// maxCursor marks the open upper bound of an unbounded window.
var maxCursor = Cursor{Primary: math.MaxInt64, Secondary: math.MaxInt64}

// Window is a half-open extraction window [Low, High) in cursor space.
type Window struct {
	Low  Cursor
	High Cursor
}

// Bounded reports whether the window has a finite upper bound. Time-windowed
// strategies produce bounded windows; id-based strategies leave the upper
// bound open.
func (w Window) Bounded() bool {
	return w.High != maxCursor
}

// ChangeRecord is one observation of a source row. Records are immutable
// once produced by the extractor.
type ChangeRecord struct {
	// Key identifies the entity the record belongs to.
	Key Key

	// Op is the change operation.
	Op OperationKind

	// CommitSeq is the totally ordered value used to pick between competing
	// versions of the same entity.
	CommitSeq Cursor

	// Payload holds column values. Nil for deletes.
	Payload map[string]any

	// BatchLocalSeq breaks ties between records sharing a CommitSeq, so
	// deduplication stays deterministic under replay.
	BatchLocalSeq int
}

// BatchStatus tracks the lifecycle of a change batch.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchApplied BatchStatus = "applied"
	BatchFailed  BatchStatus = "failed"
)

// ChangeBatch is an unordered collection of change records extracted for a
// single table and window.
type ChangeBatch struct {
	BatchID string
	TableID string
	Window  Window
	Records []ChangeRecord
	Status  BatchStatus
}

// TargetRow is the materialized state of one entity in the target table.
type TargetRow struct {
	Key        Key
	Payload    map[string]any
	AppliedSeq Cursor
	Tombstoned bool
}

// RecordFailure describes a record that could not be applied safely.
type RecordFailure struct {
	Key    Key
	Reason string
}

// MergeResult summarizes a merge pass over a deduplicated batch.
type MergeResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Noops    int

	// MaxApplied is the highest commit sequence among successfully applied
	// records. Zero when nothing was applied.
	MaxApplied Cursor

	// Failures lists records that were rejected (e.g. schema mismatches).
	Failures []RecordFailure
}

// Applied returns the number of records that mutated the target.
func (r MergeResult) Applied() int {
	return r.Inserted + r.Updated + r.Deleted
}

// TargetAggregate is the read-only summary of a target table used by the
// auditor and the advancer.
type TargetAggregate struct {
	Rows       int64
	MaxApplied Cursor
}

// WatermarkState is the durable per-table cursor state. It is read by the
// resolver and written only by the advancer through the store's
// compare-and-swap.
type WatermarkState struct {
	TableID  string
	Strategy StrategyKind
	Cursor   Cursor

	// Version guards optimistic concurrency. Zero means the state has never
	// been persisted.
	Version int64

	// Run bookkeeping carried on the state for operator visibility.
	RowsApplied int64
	ExecutionID string
	DurationMS  int64

	UpdatedAt time.Time
}
