package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// StrategyKind names the supported watermark strategies.
type StrategyKind string

const (
	// StrategyTimestamp orders rows by a modification timestamp column.
	StrategyTimestamp StrategyKind = "timestamp"
	// StrategyInteger orders rows by a monotonically increasing id.
	StrategyInteger StrategyKind = "integer"
	// StrategyXmin orders rows by a transaction id living in a circular
	// space modulo 2^32.
	StrategyXmin StrategyKind = "xmin"
	// StrategyComposite orders rows by a (primary, secondary) tuple, used
	// when the primary ordering key has duplicates.
	StrategyComposite StrategyKind = "composite"
	// StrategyFullSnapshot extracts the entire source every pass and leaves
	// change detection to the merge applier's payload comparison.
	StrategyFullSnapshot StrategyKind = "full_snapshot"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(name string) (StrategyKind, error) {
	kind := StrategyKind(strings.ToLower(strings.TrimSpace(name)))
	switch kind {
	case StrategyTimestamp, StrategyInteger, StrategyXmin, StrategyComposite, StrategyFullSnapshot:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Strategy is the polymorphic behavior behind a watermark kind. One
// implementation exists per variant; nothing outside this file branches on
// the kind for ordering decisions.
type Strategy interface {
	// Kind returns the strategy name.
	Kind() StrategyKind

	// Epoch returns the sentinel cursor that forces a full baseline load
	// when no watermark exists yet.
	Epoch() Cursor

	// Compare orders two cursors: -1 when a < b, 0 when equal, 1 when a > b.
	Compare(a, b Cursor) int

	// Window computes the next extraction window from the committed cursor.
	Window(cursor Cursor, now time.Time) Window

	// AdvanceCursor picks the cursor to commit after a successful apply:
	// the window's upper bound for time-windowed strategies (so rows that
	// existed in the window but were filtered by pagination are not
	// re-extracted forever), the max applied sequence otherwise.
	AdvanceCursor(w Window, maxApplied Cursor) Cursor

	// NeedsBaseline reports whether the committed cursor can no longer be
	// trusted against the source head and a full reconcile is required.
	NeedsBaseline(cursor, head Cursor) bool
}

// ForKind returns the Strategy implementation for a kind.
func ForKind(kind StrategyKind) (Strategy, error) {
	switch kind {
	case StrategyTimestamp:
		return timestampStrategy{}, nil
	case StrategyInteger:
		return integerStrategy{}, nil
	case StrategyXmin:
		return xminStrategy{}, nil
	case StrategyComposite:
		return compositeStrategy{}, nil
	case StrategyFullSnapshot:
		return fullSnapshotStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
}

// compareScalar orders plain int64 cursor primaries.
func compareScalar(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareLexicographic orders cursors by (Primary, Secondary).
func compareLexicographic(a, b Cursor) int {
	if c := compareScalar(a.Primary, b.Primary); c != 0 {
		return c
	}
	return compareScalar(a.Secondary, b.Secondary)
}

type timestampStrategy struct{}

func (timestampStrategy) Kind() StrategyKind { return StrategyTimestamp }
func (timestampStrategy) Epoch() Cursor      { return Cursor{} }

func (timestampStrategy) Compare(a, b Cursor) int { return compareLexicographic(a, b) }

// Window is time-bounded: [cursor, now). Bounding the upper edge keeps the
// window stable under replay even while the source keeps writing.
func (timestampStrategy) Window(cursor Cursor, now time.Time) Window {
	return Window{Low: cursor, High: TimeCursor(now)}
}

func (timestampStrategy) AdvanceCursor(w Window, _ Cursor) Cursor { return w.High }

func (timestampStrategy) NeedsBaseline(_, _ Cursor) bool { return false }

type integerStrategy struct{}

func (integerStrategy) Kind() StrategyKind { return StrategyInteger }
func (integerStrategy) Epoch() Cursor      { return Cursor{} }

func (integerStrategy) Compare(a, b Cursor) int { return compareLexicographic(a, b) }

func (integerStrategy) Window(cursor Cursor, _ time.Time) Window {
	return Window{Low: cursor, High: maxCursor}
}

func (integerStrategy) AdvanceCursor(_ Window, maxApplied Cursor) Cursor { return maxApplied }

func (integerStrategy) NeedsBaseline(_, _ Cursor) bool { return false }

// xminModulus is the size of the transaction-id space.
const xminModulus = int64(1) << 32

// circularDelta returns the signed shortest distance from a to b in the
// circular id space. A negative result means b is more than half the
// modulus "ahead", i.e. the ids can no longer be ordered reliably.
func circularDelta(a, b int64) int64 {
	d := (b - a) % xminModulus
	if d < 0 {
		d += xminModulus
	}
	if d >= xminModulus/2 {
		d -= xminModulus
	}
	return d
}

type xminStrategy struct{}

func (xminStrategy) Kind() StrategyKind { return StrategyXmin }
func (xminStrategy) Epoch() Cursor      { return Cursor{} }

func (xminStrategy) Compare(a, b Cursor) int {
	d := circularDelta(a.Primary, b.Primary)
	switch {
	case d > 0:
		return -1
	case d < 0:
		return 1
	default:
		return compareScalar(a.Secondary, b.Secondary)
	}
}

func (xminStrategy) Window(cursor Cursor, _ time.Time) Window {
	return Window{Low: cursor, High: maxCursor}
}

func (xminStrategy) AdvanceCursor(_ Window, maxApplied Cursor) Cursor { return maxApplied }

// NeedsBaseline detects wraparound: when the distance from the committed
// cursor to the newest observed id exceeds half the modulus the ordering is
// ambiguous, so the resolver falls back to a full reconcile instead of
// silently misordering records.
func (xminStrategy) NeedsBaseline(cursor, head Cursor) bool {
	if cursor.IsZero() {
		return false
	}
	return circularDelta(cursor.Primary, head.Primary) < 0
}

type compositeStrategy struct{}

func (compositeStrategy) Kind() StrategyKind { return StrategyComposite }
func (compositeStrategy) Epoch() Cursor      { return Cursor{} }

func (compositeStrategy) Compare(a, b Cursor) int { return compareLexicographic(a, b) }

func (compositeStrategy) Window(cursor Cursor, _ time.Time) Window {
	return Window{Low: cursor, High: maxCursor}
}

func (compositeStrategy) AdvanceCursor(_ Window, maxApplied Cursor) Cursor { return maxApplied }

func (compositeStrategy) NeedsBaseline(_, _ Cursor) bool { return false }

// fullSnapshotStrategy re-extracts the whole source every pass. Target rows
// absent from the snapshot are not removed; deletion still requires an
// explicit delete record.
type fullSnapshotStrategy struct{}

func (fullSnapshotStrategy) Kind() StrategyKind { return StrategyFullSnapshot }
func (fullSnapshotStrategy) Epoch() Cursor      { return Cursor{} }

func (fullSnapshotStrategy) Compare(a, b Cursor) int { return compareLexicographic(a, b) }

// Window always spans the whole source; every pass is a full extraction.
func (fullSnapshotStrategy) Window(_ Cursor, _ time.Time) Window {
	return Window{Low: Cursor{}, High: maxCursor}
}

func (fullSnapshotStrategy) AdvanceCursor(_ Window, maxApplied Cursor) Cursor { return maxApplied }

func (fullSnapshotStrategy) NeedsBaseline(_, _ Cursor) bool { return false }
