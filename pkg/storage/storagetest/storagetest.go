// Package storagetest holds behaviour checks shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)

// Interval builds a one-minute-aligned test interval.
func Interval(user, room string, startMin, endMin, value int) period.Interval {
	return period.Interval{
		UserID: user,
		RoomID: room,
		Start:  base.Add(time.Duration(startMin) * time.Minute),
		End:    base.Add(time.Duration(endMin) * time.Minute),
		Value:  value,
	}
}

// Run executes the shared checks against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"InsertAndQuery", testInsertAndQuery},
		{"Ordering", testOrdering},
		{"Paging", testPaging},
		{"UserIsolation", testUserIsolation},
		{"DeleteRows", testDeleteRows},
		{"Replace", testReplace},
		{"RejectsInvalidIntervals", testRejectsInvalid},
		{"Rooms", testRooms},
		{"Stats", testStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testInsertAndQuery(t *testing.T, s storage.Store) {
	ctx := context.Background()
	in := Interval("u1", "kitchen", 0, 30, 1)
	// Sub-second precision and zones are normalized on write.
	in.Start = in.Start.Add(400 * time.Millisecond).In(time.FixedZone("CET", 3600))

	require.NoError(t, s.InsertIntervals(ctx, []period.Interval{in}))

	rows, more, err := s.QueryRange(ctx, storage.Query{UserID: "u1"}, 0, 999)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, rows, 1)

	assert.NotEmpty(t, rows[0].RowID)
	got := rows[0].Interval
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "kitchen", got.RoomID)
	assert.True(t, got.Start.Equal(base), "start %v", got.Start)
	assert.True(t, got.End.Equal(base.Add(30*time.Minute)))
	assert.Equal(t, 1, got.Value)
}

func testOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertIntervals(ctx, []period.Interval{
		Interval("u1", "a", 20, 30, 0),
		Interval("u1", "a", 0, 10, 1),
		Interval("u1", "b", 0, 30, 1),
		Interval("u1", "a", 10, 20, 0),
	}))

	asc, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, asc, 4)
	for i := 1; i < len(asc); i++ {
		prev, cur := asc[i-1], asc[i]
		require.False(t, cur.Interval.End.Before(prev.Interval.End), "ascending by end")
		if cur.Interval.End.Equal(prev.Interval.End) {
			require.Less(t, prev.RowID, cur.RowID, "ties ordered by row id")
		}
	}

	desc, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1", Descending: true}, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, desc, 4)
	for i := range desc {
		assert.Equal(t, asc[len(asc)-1-i].RowID, desc[i].RowID)
	}
}

func testPaging(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var ivs []period.Interval
	for i := 0; i < 25; i++ {
		ivs = append(ivs, Interval("u1", "a", i*10, i*10+10, i%2))
	}
	require.NoError(t, s.InsertIntervals(ctx, ivs))

	var pages []int
	rows, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{
		PageSize: 10,
		OnPage:   func(_, n int) { pages = append(pages, n) },
	})
	require.NoError(t, err)
	assert.Len(t, rows, 25)
	assert.Equal(t, []int{10, 10, 5}, pages)

	page, more, err := s.QueryRange(ctx, storage.Query{UserID: "u1"}, 10, 19)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, page, 10)
	assert.True(t, page[0].Interval.Start.Equal(base.Add(100*time.Minute)))

	page, more, err = s.QueryRange(ctx, storage.Query{UserID: "u1"}, 20, 24)
	require.NoError(t, err)
	assert.False(t, more, "last row is inside the range")
	assert.Len(t, page, 5)

	page, more, err = s.QueryRange(ctx, storage.Query{UserID: "u1"}, 30, 39)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, page)

	_, _, err = s.QueryRange(ctx, storage.Query{UserID: "u1"}, 5, 2)
	assert.True(t, errors.Is(err, storage.ErrInvalidArgument))
}

func testUserIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertIntervals(ctx, []period.Interval{
		Interval("u1", "a", 0, 10, 1),
		Interval("u2", "a", 0, 10, 1),
		Interval("u2", "a", 10, 20, 0),
	}))

	rows, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u2"}, pagination.Options{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "u2", r.Interval.UserID)
	}

	rows, err = storage.FetchAll(ctx, s, storage.Query{UserID: "nobody"}, pagination.Options{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testDeleteRows(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertIntervals(ctx, []period.Interval{
		Interval("u1", "a", 0, 10, 1),
		Interval("u1", "a", 10, 20, 0),
	}))
	rows, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, s.DeleteRows(ctx, []string{rows[0].RowID, "does-not-exist"}))
	require.NoError(t, s.DeleteRows(ctx, nil))

	left, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, rows[1].RowID, left[0].RowID)
}

func testReplace(t *testing.T, s storage.Store) {
	r, ok := s.(storage.Replacer)
	if !ok {
		t.Skip("backend does not implement storage.Replacer")
	}

	ctx := context.Background()
	require.NoError(t, s.InsertIntervals(ctx, []period.Interval{Interval("u1", "a", 0, 10, 1)}))
	rows, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	extended := rows[0].Interval
	extended.End = extended.End.Add(20 * time.Minute)
	require.NoError(t, r.Replace(ctx, []string{rows[0].RowID}, []period.Interval{
		extended,
		Interval("u1", "a", 30, 40, 0),
	}))

	after, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.True(t, after[0].Interval.End.Equal(base.Add(30*time.Minute)))
	assert.NotEqual(t, rows[0].RowID, after[0].RowID)

	// A failing insert leaves the rows to delete in place.
	bad := Interval("u1", "a", 50, 50, 1)
	err = r.Replace(ctx, []string{after[0].RowID}, []period.Interval{bad})
	require.Error(t, err)

	kept, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func testRejectsInvalid(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i, iv := range []period.Interval{
		Interval("", "a", 0, 10, 1),
		Interval("u1", "a", 10, 10, 1),
		Interval("u1", "a", 10, 0, 1),
		Interval("u1", "a", 0, 10, 7),
	} {
		err := s.InsertIntervals(ctx, []period.Interval{iv})
		assert.True(t, errors.Is(err, storage.ErrInvalidArgument), fmt.Sprintf("case %d: %v", i, err))
	}

	rows, err := storage.FetchAll(ctx, s, storage.Query{UserID: "u1"}, pagination.Options{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testRooms(t *testing.T, s storage.Store) {
	ctx := context.Background()

	kitchen, err := s.EnsureRoom(ctx, "u1", "kitchen")
	require.NoError(t, err)
	require.NotEmpty(t, kitchen)

	again, err := s.EnsureRoom(ctx, "u1", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, kitchen, again, "EnsureRoom is idempotent")

	bath, err := s.EnsureRoom(ctx, "u1", "bath")
	require.NoError(t, err)
	assert.NotEqual(t, kitchen, bath)

	other, err := s.EnsureRoom(ctx, "u2", "kitchen")
	require.NoError(t, err)
	assert.NotEqual(t, kitchen, other, "rooms are per user")

	rooms, err := s.ListRooms(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "bath", rooms[0].Name)
	assert.Equal(t, bath, rooms[0].ID)
	assert.Equal(t, "kitchen", rooms[1].Name)
	assert.Equal(t, "u1", rooms[1].UserID)

	_, err = s.EnsureRoom(ctx, "u1", "")
	assert.True(t, errors.Is(err, storage.ErrInvalidArgument))
}

func testStats(t *testing.T, s storage.Store) {
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalIntervals)

	_, err = s.EnsureRoom(ctx, "u1", "a")
	require.NoError(t, err)
	require.NoError(t, s.InsertIntervals(ctx, []period.Interval{
		Interval("u1", "a", 5, 10, 1),
		Interval("u2", "a", 0, 40, 0),
		Interval("u2", "a", 40, 50, 1),
	}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.TotalIntervals)
	assert.Equal(t, uint64(2), stats.TotalUsers)
	assert.Equal(t, uint64(1), stats.TotalRooms)
	assert.True(t, stats.Oldest.Equal(base), "oldest %v", stats.Oldest)
	assert.True(t, stats.Newest.Equal(base.Add(50*time.Minute)), "newest %v", stats.Newest)
}
