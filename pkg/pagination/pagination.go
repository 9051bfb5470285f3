// Package pagination reads an unbounded result set from a store that caps
// the number of rows a single request may return.
//
// Pages are requested sequentially with inclusive row ranges:
//
//	page 0: [0, 999]
//	page 1: [1000, 1999]
//	...
//
// The read stops at the first page holding fewer than PageSize rows, or
// earlier when the source reports that nothing follows the page. A source
// that knows its row count therefore serves 2000 rows in exactly two
// requests instead of paying for a trailing empty page.
//
// A failed page fails the whole read; rows already fetched are discarded.
package pagination

import (
	"context"
	"fmt"
)

// PageSize is the row cap of a single page request
const PageSize = 1000

// PageFunc fetches rows in the inclusive range [from, to]. more reports
// whether rows exist past to; sources that cannot tell return true.
type PageFunc[T any] func(ctx context.Context, from, to int) (rows []T, more bool, err error)

// Rows adapts a plain range fetcher. The read then ends on the first short page.
func Rows[T any](fetch func(ctx context.Context, from, to int) ([]T, error)) PageFunc[T] {
	return func(ctx context.Context, from, to int) ([]T, bool, error) {
		rows, err := fetch(ctx, from, to)
		return rows, true, err
	}
}

// Options tunes a paginated read.
type Options struct {
	// PageSize overrides the default page size (0 = PageSize)
	PageSize int

	// OnPage is called after every successful page with its index and row count
	OnPage func(page, rows int)
}

// FetchError reports the page request that failed.
type FetchError struct {
	Page int
	From int
	To   int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d [%d, %d]: %v", e.Page, e.From, e.To, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchAll reads every row with the default page size.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	return Fetch(ctx, Options{}, fetch)
}

// Fetch reads every row, one page at a time.
// Termination relies on the source returning short pages only at the end.
func Fetch[T any](ctx context.Context, opts Options, fetch PageFunc[T]) ([]T, error) {
	size := opts.PageSize
	if size <= 0 {
		size = PageSize
	}

	var all []T
	for page := 0; ; page++ {
		from := page * size
		to := from + size - 1

		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Page: page, From: from, To: to, Err: err}
		}

		rows, more, err := fetch(ctx, from, to)
		if err != nil {
			return nil, &FetchError{Page: page, From: from, To: to, Err: err}
		}
		if opts.OnPage != nil {
			opts.OnPage(page, len(rows))
		}

		all = append(all, rows...)
		if len(rows) < size || !more {
			return all, nil
		}
	}
}
