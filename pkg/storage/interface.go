package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
)

// ErrInvalidArgument is returned for requests a backend cannot serve
// (empty user id, empty room name, malformed interval).
var ErrInvalidArgument = errors.New("invalid argument")

// Store defines the interface for interval storage backends.
// Implementations: memory (testing), badger (local), postgres (hosted)
type Store interface {
	// QueryRange returns the rows at positions [from, to] (inclusive) of the
	// query's ordering, and whether rows exist past to.
	QueryRange(ctx context.Context, q Query, from, to int) ([]period.StoredInterval, bool, error)

	// InsertIntervals stores intervals as new rows. Row ids are assigned by the backend.
	InsertIntervals(ctx context.Context, intervals []period.Interval) error

	// DeleteRows removes rows by id. Unknown ids are ignored.
	DeleteRows(ctx context.Context, ids []string) error

	// EnsureRoom returns the id of the user's room with the given name,
	// creating the room if needed.
	EnsureRoom(ctx context.Context, userID, name string) (string, error)

	// ListRooms returns the user's rooms ordered by name
	ListRooms(ctx context.Context, userID string) ([]Room, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Replacer is implemented by backends that can delete rows and insert
// intervals atomically.
type Replacer interface {
	Replace(ctx context.Context, deleteIDs []string, inserts []period.Interval) error
}

// Query selects one user's intervals. Rows are ordered by end time, then
// by row id; Descending reverses the order.
type Query struct {
	UserID     string
	Descending bool
}

// Room is a named room owned by a user
type Room struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Stats provides storage health and usage info
type Stats struct {
	// Total stored intervals
	TotalIntervals uint64 `json:"total_intervals"`

	// Users with at least one interval
	TotalUsers uint64 `json:"total_users"`

	// Rooms across all users
	TotalRooms uint64 `json:"total_rooms"`

	// Storage size in bytes (0 if unknown)
	SizeBytes uint64 `json:"size_bytes"`

	// Earliest interval start
	Oldest time.Time `json:"oldest"`

	// Latest interval end
	Newest time.Time `json:"newest"`
}

// FetchAll reads the whole result of q through the paginator.
func FetchAll(ctx context.Context, s Store, q Query, opts pagination.Options) ([]period.StoredInterval, error) {
	return pagination.Fetch(ctx, opts, func(ctx context.Context, from, to int) ([]period.StoredInterval, bool, error) {
		return s.QueryRange(ctx, q, from, to)
	})
}

// ValidateInterval checks an interval before it is written.
func ValidateInterval(iv period.Interval) error {
	switch {
	case iv.UserID == "":
		return fmt.Errorf("%w: interval without user id", ErrInvalidArgument)
	case !iv.Start.Before(iv.End):
		return fmt.Errorf("%w: interval start %s is not before end %s",
			ErrInvalidArgument, period.FormatTimestamp(iv.Start), period.FormatTimestamp(iv.End))
	case iv.Value != period.Vacant && iv.Value != period.Occupied:
		return fmt.Errorf("%w: interval value %d", ErrInvalidArgument, iv.Value)
	}
	return nil
}

// ValidateRange rejects page bounds a backend cannot translate.
func ValidateRange(from, to int) error {
	if from < 0 || to < from {
		return fmt.Errorf("%w: range [%d, %d]", ErrInvalidArgument, from, to)
	}
	return nil
}
