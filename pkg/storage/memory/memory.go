package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

// Storage stores periods in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	rows  map[string]period.StoredInterval
	rooms map[roomKey]storage.Room
	mu    sync.RWMutex
}

type roomKey struct {
	user string
	name string
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		rows:  make(map[string]period.StoredInterval),
		rooms: make(map[roomKey]storage.Room),
	}
}

// QueryRange returns one page of the user's periods ordered by end time
func (s *Storage) QueryRange(ctx context.Context, q storage.Query, from, to int) ([]period.StoredInterval, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := storage.ValidateRange(from, to); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []period.StoredInterval
	for _, r := range s.rows {
		if r.Interval.UserID == q.UserID {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Interval.End.Equal(b.Interval.End) {
			return a.Interval.End.Before(b.Interval.End) != q.Descending
		}
		return (a.RowID < b.RowID) != q.Descending
	})

	if from >= len(matched) {
		return nil, false, nil
	}
	end := to + 1
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]period.StoredInterval, end-from)
	copy(page, matched[from:end])
	return page, end < len(matched), nil
}

// InsertIntervals stores intervals under fresh row ids
func (s *Storage) InsertIntervals(ctx context.Context, intervals []period.Interval) error {
	return s.Replace(ctx, nil, intervals)
}

// DeleteRows removes rows by id
func (s *Storage) DeleteRows(ctx context.Context, ids []string) error {
	return s.Replace(ctx, ids, nil)
}

// Replace deletes and inserts under a single lock, so readers never see
// one half without the other.
func (s *Storage) Replace(ctx context.Context, deleteIDs []string, inserts []period.Interval) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, iv := range inserts {
		if err := storage.ValidateInterval(iv); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range deleteIDs {
		delete(s.rows, id)
	}
	for _, iv := range inserts {
		iv.Start = period.Normalize(iv.Start)
		iv.End = period.Normalize(iv.End)
		id := uuid.NewString()
		s.rows[id] = period.StoredInterval{RowID: id, Interval: iv}
	}
	return nil
}

// EnsureRoom returns the room id for (userID, name), creating it if needed
func (s *Storage) EnsureRoom(ctx context.Context, userID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if userID == "" || name == "" {
		return "", fmt.Errorf("%w: room needs a user and a name", storage.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := roomKey{user: userID, name: name}
	if r, ok := s.rooms[k]; ok {
		return r.ID, nil
	}
	r := storage.Room{ID: uuid.NewString(), UserID: userID, Name: name}
	s.rooms[k] = r
	return r.ID, nil
}

// ListRooms returns the user's rooms ordered by name
func (s *Storage) ListRooms(ctx context.Context, userID string) ([]storage.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []storage.Room
	for k, r := range s.rooms {
		if k.user == userID {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalIntervals: uint64(len(s.rows)),
		TotalRooms:     uint64(len(s.rooms)),
	}

	users := make(map[string]bool)
	for _, r := range s.rows {
		users[r.Interval.UserID] = true

		if stats.Oldest.IsZero() || r.Interval.Start.Before(stats.Oldest) {
			stats.Oldest = r.Interval.Start
		}
		if r.Interval.End.After(stats.Newest) {
			stats.Newest = r.Interval.End
		}
	}
	stats.TotalUsers = uint64(len(users))

	// Rough size estimate (each row ~120 bytes)
	stats.SizeBytes = uint64(len(s.rows)) * 120

	return stats, nil
}
