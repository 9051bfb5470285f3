package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iv(room string, start, end, value int) Interval {
	return Interval{UserID: "u1", RoomID: room, Start: at(start), End: at(end), Value: value}
}

func stored(rowID string, i Interval) StoredInterval {
	return StoredInterval{RowID: rowID, Interval: i}
}

func TestReconcile_ExtendsSameDaySameValue(t *testing.T) {
	old := []StoredInterval{
		stored("r1", iv("a", 0, 30, 0)),
		stored("r2", iv("a", 30, 60, 1)),
	}
	newIvs := []Interval{
		iv("a", 60, 90, 1),
		iv("a", 90, 120, 0),
	}

	res := Reconcile(newIvs, old, []string{"a"})

	assert.Equal(t, []string{"r2"}, res.RowsToDelete)
	assert.Equal(t, 1, res.Extended)
	assert.Empty(t, res.Duplicates)
	assert.Equal(t, []Interval{
		iv("a", 0, 30, 0),
		iv("a", 30, 90, 1),
		iv("a", 90, 120, 0),
	}, res.IntervalsToPersist)
	assert.Equal(t, []Interval{
		iv("a", 30, 90, 1),
		iv("a", 90, 120, 0),
	}, res.Inserts)
}

func TestReconcile_DifferentValueIsNotExtended(t *testing.T) {
	old := []StoredInterval{stored("r1", iv("a", 0, 30, 1))}
	newIvs := []Interval{iv("a", 30, 60, 0)}

	res := Reconcile(newIvs, old, []string{"a"})

	assert.Empty(t, res.RowsToDelete)
	assert.Zero(t, res.Extended)
	assert.Equal(t, []Interval{iv("a", 0, 30, 1), iv("a", 30, 60, 0)}, res.IntervalsToPersist)
	assert.Equal(t, newIvs, res.Inserts)
}

func TestReconcile_DifferentDayIsNotExtended(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 0, 30, 0, 0, time.UTC)
	old := []StoredInterval{stored("r1", Interval{UserID: "u1", RoomID: "a", Start: day1, End: day1.Add(50 * time.Minute), Value: 1})}
	newIvs := []Interval{{UserID: "u1", RoomID: "a", Start: day2, End: day2.Add(time.Hour), Value: 1}}

	res := Reconcile(newIvs, old, []string{"a"})

	assert.Empty(t, res.RowsToDelete)
	assert.Len(t, res.IntervalsToPersist, 2)
	assert.Equal(t, newIvs, res.Inserts)
}

func TestReconcileIn_UsesCalendarDayOfLocation(t *testing.T) {
	// 21:30 and 22:30 UTC fall on different days in UTC+2 but not in UTC.
	east := time.FixedZone("EET", 2*3600)
	end := time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)
	start := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)
	old := []StoredInterval{stored("r1", Interval{UserID: "u1", RoomID: "a", Start: end.Add(-time.Hour), End: end, Value: 1})}
	newIvs := []Interval{{UserID: "u1", RoomID: "a", Start: start, End: start.Add(time.Hour), Value: 1}}

	assert.Equal(t, 1, Reconcile(newIvs, old, []string{"a"}).Extended)
	assert.Zero(t, ReconcileIn(east, newIvs, old, []string{"a"}).Extended)
}

func TestReconcile_DropsDuplicates(t *testing.T) {
	old := []StoredInterval{
		stored("r1", iv("a", 0, 30, 0)),
		stored("r2", iv("a", 30, 60, 1)),
	}
	// Same start and value as r1, different end: still a duplicate.
	newIvs := []Interval{iv("a", 0, 45, 0)}

	res := Reconcile(newIvs, old, []string{"a"})

	require.True(t, res.HasDuplicates())
	assert.Equal(t, newIvs, res.Duplicates)
	assert.Empty(t, res.Inserts)
	assert.Empty(t, res.RowsToDelete)
	assert.Equal(t, Intervals(old), res.IntervalsToPersist)
}

func TestReconcile_IdempotentOnResend(t *testing.T) {
	samples := samplesFor("A", 0, 1, 1, 0, 0)
	ids := map[string]string{"A": "a"}
	first, err := Extract("u1", []string{"A"}, ids, samples)
	require.NoError(t, err)

	res := Reconcile(first, nil, []string{"a"})
	require.Equal(t, first, res.Inserts)

	old := make([]StoredInterval, len(res.IntervalsToPersist))
	for i, p := range res.IntervalsToPersist {
		old[i] = stored(string(rune('a'+i)), p)
	}

	again := Reconcile(first, old, []string{"a"})
	assert.Len(t, again.Duplicates, len(first))
	assert.Empty(t, again.Inserts)
	assert.Empty(t, again.RowsToDelete)
	assert.Equal(t, res.IntervalsToPersist, again.IntervalsToPersist)
}

func TestReconcile_DuplicateMatchIgnoresSubSecondAndZone(t *testing.T) {
	zone := time.FixedZone("X", -5*3600)
	old := []StoredInterval{stored("r1", iv("a", 0, 30, 1))}
	dup := Interval{UserID: "u1", RoomID: "a", Start: at(0).In(zone).Add(300 * time.Millisecond), End: at(40), Value: 1}

	res := Reconcile([]Interval{dup}, old, []string{"a"})
	assert.True(t, res.HasDuplicates())
}

func TestReconcile_PicksLatestStoredRegardlessOfOrder(t *testing.T) {
	// Rows arrive in ascending order; the latest by end is still r3.
	old := []StoredInterval{
		stored("r1", iv("a", 0, 10, 1)),
		stored("r2", iv("a", 10, 20, 0)),
		stored("r3", iv("a", 20, 30, 1)),
	}
	newIvs := []Interval{iv("a", 30, 40, 1)}

	res := Reconcile(newIvs, old, []string{"a"})

	assert.Equal(t, []string{"r3"}, res.RowsToDelete)
	assert.Equal(t, iv("a", 20, 40, 1), res.IntervalsToPersist[2])
}

func TestReconcile_TieBreakOnEqualEnds(t *testing.T) {
	old := []StoredInterval{
		stored("r9", iv("a", 0, 30, 1)),
		stored("r1", iv("a", 10, 30, 1)),
	}
	newIvs := []Interval{iv("a", 30, 40, 1)}

	res := Reconcile(newIvs, old, []string{"a"})
	assert.Equal(t, []string{"r1"}, res.RowsToDelete, "later start wins")

	old = []StoredInterval{
		stored("r1", iv("a", 10, 30, 1)),
		stored("r2", iv("a", 10, 30, 1)),
	}
	// Shift the new start so it is not a duplicate of either row.
	res = Reconcile([]Interval{iv("a", 31, 40, 1)}, old, []string{"a"})
	assert.Equal(t, []string{"r2"}, res.RowsToDelete, "greater row id wins")
}

func TestReconcile_OnlyFirstNewIntervalPerRoom(t *testing.T) {
	old := []StoredInterval{stored("r1", iv("a", 0, 30, 1))}
	newIvs := []Interval{
		iv("a", 30, 40, 1),
		iv("a", 40, 50, 0),
		iv("a", 50, 60, 1),
	}

	res := Reconcile(newIvs, old, []string{"a"})

	assert.Equal(t, 1, res.Extended)
	assert.Equal(t, []Interval{
		iv("a", 0, 40, 1),
		iv("a", 40, 50, 0),
		iv("a", 50, 60, 1),
	}, res.IntervalsToPersist)
}

func TestReconcile_CoveredRunIsAbsorbedWithoutWrite(t *testing.T) {
	old := []StoredInterval{stored("r1", iv("a", 0, 60, 1))}

	for _, newIv := range []Interval{iv("a", 20, 40, 1), iv("a", 30, 60, 1)} {
		res := Reconcile([]Interval{newIv}, old, []string{"a"})

		assert.Empty(t, res.RowsToDelete, "end must not move backwards")
		assert.Empty(t, res.Inserts)
		assert.Zero(t, res.Extended)
		assert.Equal(t, []Interval{iv("a", 0, 60, 1)}, res.IntervalsToPersist)
	}
}

func TestReconcile_ResendOfExtendingBatchKeepsOnePeriod(t *testing.T) {
	old := []StoredInterval{stored("r1", iv("a", 0, 30, 1))}
	batch := []Interval{iv("a", 30, 60, 1)}

	first := Reconcile(batch, old, []string{"a"})
	require.Equal(t, []Interval{iv("a", 0, 60, 1)}, first.IntervalsToPersist)

	again := Reconcile(batch, []StoredInterval{stored("r2", first.IntervalsToPersist[0])}, []string{"a"})
	assert.Empty(t, again.Inserts)
	assert.Empty(t, again.RowsToDelete)
	assert.Equal(t, []Interval{iv("a", 0, 60, 1)}, again.IntervalsToPersist)
}

func TestReconcile_RoomsAreIndependent(t *testing.T) {
	old := []StoredInterval{
		stored("r1", iv("a", 0, 30, 1)),
		stored("r2", iv("b", 0, 30, 0)),
	}
	newIvs := []Interval{
		iv("a", 30, 60, 0),
		iv("b", 30, 60, 0),
	}

	res := Reconcile(newIvs, old, []string{"a", "b", "b"})

	assert.Equal(t, []string{"r2"}, res.RowsToDelete)
	assert.Equal(t, []Interval{iv("b", 0, 60, 0), iv("a", 30, 60, 0)}, res.Inserts)
}

func TestReconcile_RoomNotListedIsLeftAlone(t *testing.T) {
	old := []StoredInterval{stored("r1", iv("a", 0, 30, 1))}
	newIvs := []Interval{iv("a", 30, 60, 1)}

	res := Reconcile(newIvs, old, nil)

	assert.Empty(t, res.RowsToDelete)
	assert.Equal(t, newIvs, res.Inserts)
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	old := []StoredInterval{stored("r1", iv("a", 0, 30, 1))}
	newIvs := []Interval{iv("a", 30, 60, 1)}
	oldCopy := append([]StoredInterval(nil), old...)
	newCopy := append([]Interval(nil), newIvs...)

	res := Reconcile(newIvs, old, []string{"a"})
	require.Equal(t, 1, res.Extended)

	assert.Equal(t, oldCopy, old)
	assert.Equal(t, newCopy, newIvs)
}

func TestReconcile_EmptyHistory(t *testing.T) {
	newIvs := []Interval{iv("a", 0, 30, 1), iv("b", 0, 30, 0)}

	res := Reconcile(newIvs, nil, []string{"a", "b"})

	assert.Equal(t, newIvs, res.IntervalsToPersist)
	assert.Equal(t, newIvs, res.Inserts)
	assert.Empty(t, res.RowsToDelete)
}
