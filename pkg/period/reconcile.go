package period

import "time"

// Result is the write plan produced by Reconcile.
type Result struct {
	// RowsToDelete holds the row ids of stored intervals that were extended.
	// Each is re-inserted with its new end as part of Inserts.
	RowsToDelete []string

	// IntervalsToPersist is the full interval set after the merge: the stored
	// intervals in their original order (extended ones replaced in place)
	// followed by the new intervals that were not absorbed.
	IntervalsToPersist []Interval

	// Inserts is the part of IntervalsToPersist that must be written:
	// extended stored intervals plus the remaining new ones.
	Inserts []Interval

	// Duplicates are new intervals dropped because they were already stored
	Duplicates []Interval

	// Extended counts stored intervals whose end was moved
	Extended int
}

// HasDuplicates reports whether the upload repeated stored periods
func (r Result) HasDuplicates() bool {
	return len(r.Duplicates) > 0
}

// Reconcile merges newly extracted intervals into the stored history, using
// UTC calendar days for the same-day rule. See ReconcileIn.
func Reconcile(newIntervals []Interval, old []StoredInterval, roomIDs []string) Result {
	return ReconcileIn(time.UTC, newIntervals, old, roomIDs)
}

// ReconcileIn merges newly extracted intervals into the stored history.
//
// New intervals that repeat a stored one (same user, room, start and value)
// are dropped. Then, for every room, the most recent stored interval is
// extended by the first remaining new interval of that room when both have
// the same value and the stored end and new start fall on the same calendar
// day in loc. A run the stored interval already covers is absorbed without
// a write. Inputs are not modified.
func ReconcileIn(loc *time.Location, newIntervals []Interval, old []StoredInterval, roomIDs []string) Result {
	var res Result

	stored := make(map[string]bool, len(old))
	for _, o := range old {
		stored[o.Interval.key()] = true
	}

	remaining := make([]Interval, 0, len(newIntervals))
	for _, iv := range newIntervals {
		if stored[iv.key()] {
			res.Duplicates = append(res.Duplicates, iv)
			continue
		}
		remaining = append(remaining, iv)
	}

	updated := make([]Interval, len(old))
	for i, o := range old {
		updated[i] = o.Interval
	}

	absorbed := make(map[int]bool)
	extendedAt := make(map[int]bool)
	seenRoom := make(map[string]bool, len(roomIDs))
	for _, roomID := range roomIDs {
		if seenRoom[roomID] {
			continue
		}
		seenRoom[roomID] = true

		oi := latestStored(old, roomID)
		ni := firstForRoom(remaining, roomID, absorbed)
		if oi < 0 || ni < 0 {
			continue
		}

		lastOld := updated[oi]
		firstNew := remaining[ni]
		if lastOld.Value != firstNew.Value {
			continue
		}
		if !SameDay(lastOld.End, firstNew.Start, loc) {
			continue
		}

		// The new run is absorbed even when the stored one already covers it
		// (a re-sent batch); the end only moves forward.
		absorbed[ni] = true
		if !firstNew.End.After(lastOld.End) {
			continue
		}
		lastOld.End = firstNew.End
		updated[oi] = lastOld
		extendedAt[oi] = true
		res.RowsToDelete = append(res.RowsToDelete, old[oi].RowID)
	}

	left := make([]Interval, 0, len(remaining)-len(absorbed))
	for i, iv := range remaining {
		if !absorbed[i] {
			left = append(left, iv)
		}
	}

	res.IntervalsToPersist = make([]Interval, 0, len(updated)+len(left))
	res.IntervalsToPersist = append(res.IntervalsToPersist, updated...)
	res.IntervalsToPersist = append(res.IntervalsToPersist, left...)

	res.Inserts = make([]Interval, 0, len(extendedAt)+len(left))
	for i, iv := range updated {
		if extendedAt[i] {
			res.Inserts = append(res.Inserts, iv)
		}
	}
	res.Inserts = append(res.Inserts, left...)
	res.Extended = len(extendedAt)

	return res
}

// latestStored returns the index of the stored interval of roomID with the
// greatest end. Ties go to the later start, then to the greater row id, so
// the choice does not depend on the order the store returned rows in.
func latestStored(old []StoredInterval, roomID string) int {
	best := -1
	for i, o := range old {
		if o.Interval.RoomID != roomID {
			continue
		}
		if best < 0 || newer(o, old[best]) {
			best = i
		}
	}
	return best
}

func newer(a, b StoredInterval) bool {
	if !a.Interval.End.Equal(b.Interval.End) {
		return a.Interval.End.After(b.Interval.End)
	}
	if !a.Interval.Start.Equal(b.Interval.Start) {
		return a.Interval.Start.After(b.Interval.Start)
	}
	return a.RowID > b.RowID
}

func firstForRoom(intervals []Interval, roomID string, skip map[int]bool) int {
	for i, iv := range intervals {
		if iv.RoomID == roomID && !skip[i] {
			return i
		}
	}
	return -1
}
