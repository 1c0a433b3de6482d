package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StrategyKind
		wantErr bool
	}{
		{"Timestamp", "timestamp", StrategyTimestamp, false},
		{"Integer", "integer", StrategyInteger, false},
		{"Xmin", "xmin", StrategyXmin, false},
		{"Composite", "composite", StrategyComposite, false},
		{"FullSnapshot", "full_snapshot", StrategyFullSnapshot, false},
		{"MixedCase", "TimeStamp", StrategyTimestamp, false},
		{"Padded", "  integer ", StrategyInteger, false},
		{"Unknown", "vector_clock", "", true},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStrategy)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimestampStrategy(t *testing.T) {
	s, err := ForKind(StrategyTimestamp)
	assert.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := TimeCursor(now.Add(-time.Hour))
	later := TimeCursor(now)

	assert.Equal(t, -1, s.Compare(earlier, later))
	assert.Equal(t, 1, s.Compare(later, earlier))
	assert.Equal(t, 0, s.Compare(later, later))

	// Window is bounded above by now so replays see a stable window.
	w := s.Window(earlier, now)
	assert.Equal(t, earlier, w.Low)
	assert.Equal(t, TimeCursor(now), w.High)
	assert.True(t, w.Bounded())

	// The advance commits the upper bound, not the max applied sequence.
	assert.Equal(t, w.High, s.AdvanceCursor(w, earlier))
}

func TestIntegerStrategy(t *testing.T) {
	s, err := ForKind(StrategyInteger)
	assert.NoError(t, err)

	w := s.Window(Cursor{Primary: 500}, time.Now())
	assert.False(t, w.Bounded())

	// Id-based strategies advance to the max applied sequence.
	assert.Equal(t, Cursor{Primary: 812}, s.AdvanceCursor(w, Cursor{Primary: 812}))
	assert.False(t, s.NeedsBaseline(Cursor{Primary: 500}, Cursor{Primary: 100}))
}

func TestXminStrategy_CircularOrdering(t *testing.T) {
	s, err := ForKind(StrategyXmin)
	assert.NoError(t, err)

	const modulus = int64(1) << 32

	t.Run("Plain Ordering", func(t *testing.T) {
		assert.Equal(t, -1, s.Compare(Cursor{Primary: 100}, Cursor{Primary: 200}))
		assert.Equal(t, 1, s.Compare(Cursor{Primary: 200}, Cursor{Primary: 100}))
		assert.Equal(t, 0, s.Compare(Cursor{Primary: 100}, Cursor{Primary: 100}))
	})

	t.Run("Across The Wrap", func(t *testing.T) {
		// An id just past the wrap point is newer than one just before it.
		before := Cursor{Primary: modulus - 10}
		after := Cursor{Primary: 5}
		assert.Equal(t, -1, s.Compare(before, after))
		assert.Equal(t, 1, s.Compare(after, before))
	})

	t.Run("Wraparound Forces Baseline", func(t *testing.T) {
		cursor := Cursor{Primary: 1000}
		// Head "behind" the cursor by more than half the modulus means the
		// ordering is ambiguous.
		staleHead := Cursor{Primary: 1000 + modulus/2 + 1}
		assert.True(t, s.NeedsBaseline(cursor, staleHead))

		freshHead := Cursor{Primary: 2000}
		assert.False(t, s.NeedsBaseline(cursor, freshHead))

		// A never-loaded table is already a baseline.
		assert.False(t, s.NeedsBaseline(Cursor{}, staleHead))
	})
}

func TestCompositeStrategy(t *testing.T) {
	s, err := ForKind(StrategyComposite)
	assert.NoError(t, err)

	a := Cursor{Primary: 10, Secondary: 5}
	b := Cursor{Primary: 10, Secondary: 7}
	c := Cursor{Primary: 11, Secondary: 0}

	assert.Equal(t, -1, s.Compare(a, b))
	assert.Equal(t, -1, s.Compare(b, c))
	assert.Equal(t, 1, s.Compare(c, a))
	assert.Equal(t, 0, s.Compare(a, a))
}

func TestFullSnapshotStrategy(t *testing.T) {
	s, err := ForKind(StrategyFullSnapshot)
	assert.NoError(t, err)

	// Every pass spans the whole source regardless of the cursor.
	w := s.Window(Cursor{Primary: 999}, time.Now())
	assert.True(t, w.Low.IsZero())
	assert.False(t, w.Bounded())
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		code    string
		want    OperationKind
		wantErr bool
	}{
		{"I", OpInsert, false},
		{"U", OpUpdate, false},
		{"D", OpDelete, false},
		{"i", OpInsert, false},
		{" d ", OpDelete, false},
		{"X", 0, true},
		{"", 0, true},
		{"DELETE", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseOperation(tt.code)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownOperation)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMakeKey(t *testing.T) {
	key := MakeKey("42", "EU")
	assert.Equal(t, []string{"42", "EU"}, key.Parts())

	// Different tuples never collide even when naive joins would.
	assert.NotEqual(t, MakeKey("1", "23"), MakeKey("12", "3"))
}
