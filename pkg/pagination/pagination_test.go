package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct{ from, to int }

// sliceSource serves rows from an in-memory slice, records every request and
// reports whether rows remain past the requested range.
func sliceSource(n int, calls *[]call) PageFunc[int] {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return func(_ context.Context, from, to int) ([]int, bool, error) {
		*calls = append(*calls, call{from, to})
		if from >= len(rows) {
			return nil, false, nil
		}
		end := to + 1
		if end > len(rows) {
			end = len(rows)
		}
		return rows[from:end], end < len(rows), nil
	}
}

func TestFetchAll_PageCounts(t *testing.T) {
	tests := []struct {
		rows  int
		calls []call
	}{
		{0, []call{{0, 999}}},
		{999, []call{{0, 999}}},
		{1000, []call{{0, 999}}},
		{1500, []call{{0, 999}, {1000, 1999}}},
		{2000, []call{{0, 999}, {1000, 1999}}},
		{2001, []call{{0, 999}, {1000, 1999}, {2000, 2999}}},
	}

	for _, tt := range tests {
		var calls []call
		got, err := FetchAll(context.Background(), sliceSource(tt.rows, &calls))
		require.NoError(t, err)

		assert.Len(t, got, tt.rows)
		assert.Equal(t, tt.calls, calls, "rows=%d", tt.rows)
		for i, v := range got {
			if v != i {
				t.Fatalf("rows out of order at %d: %d", i, v)
			}
		}
	}
}

func TestFetchAll_PlainSourceStopsOnShortPage(t *testing.T) {
	data := make([]int, 2000)
	var calls int
	fetch := Rows(func(_ context.Context, from, to int) ([]int, error) {
		calls++
		if from >= len(data) {
			return nil, nil
		}
		end := to + 1
		if end > len(data) {
			end = len(data)
		}
		return data[from:end], nil
	})

	got, err := FetchAll(context.Background(), fetch)
	require.NoError(t, err)
	assert.Len(t, got, 2000)
	// Without a row count the trailing empty page is the only end signal.
	assert.Equal(t, 3, calls)
}

func TestFetch_ErrorDiscardsRows(t *testing.T) {
	boom := errors.New("connection reset")
	var pages int
	fetch := Rows(func(_ context.Context, from, to int) ([]string, error) {
		pages++
		if pages == 2 {
			return nil, boom
		}
		return make([]string, to-from+1), nil
	})

	got, err := FetchAll(context.Background(), fetch)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, boom))

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Page)
	assert.Equal(t, 1000, fe.From)
	assert.Equal(t, 1999, fe.To)
	assert.Equal(t, 2, pages, "no retry after a failed page")
}

func TestFetch_Options(t *testing.T) {
	var calls []call
	var seen []int
	got, err := Fetch(context.Background(), Options{
		PageSize: 10,
		OnPage:   func(page, rows int) { seen = append(seen, rows) },
	}, sliceSource(25, &calls))
	require.NoError(t, err)

	assert.Len(t, got, 25)
	assert.Equal(t, []call{{0, 9}, {10, 19}, {20, 29}}, calls)
	assert.Equal(t, []int{10, 10, 5}, seen)
}

func TestFetch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []call
	_, err := FetchAll(ctx, sliceSource(10, &calls))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, calls)
}
