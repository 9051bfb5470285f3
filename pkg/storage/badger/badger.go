package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

// Key prefixes
const (
	prefixPeriod = 'p' // p | user hash | end | row id  -> period JSON
	prefixRowIdx = 'r' // r | row id                   -> period key
	prefixRoom   = 'm' // m | user hash | user \x00 name -> room JSON
)

const (
	hashLen   = 8
	endLen    = 8
	rowIDLen  = 16
	periodKey = 1 + hashLen + endLen + rowIDLen
)

// slowOp is the duration after which a read is logged as slow
const slowOp = 5 * time.Second

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	logger *zap.Logger
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	// Recommended: 64-128 MB for local dev, 256-512 MB for production
	MaxMemoryMB int64

	// Logger receives slow-operation warnings (nil = no logging)
	Logger *zap.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "badger"))

	opts := badger.DefaultOptions(cfg.Path).WithLogger(badgerLogger{logger.Sugar()})

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits for laptops and small VMs.
	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}

	// Block and index caches grow without bound unless capped
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024). // periods are ~150 bytes, keep them in the LSM
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db, logger: logger}, nil
}

// run executes fn off the caller's goroutine and gives up when ctx ends.
// Badger transactions cannot be interrupted, so fn must also poll ctx.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// QueryRange returns one page of the user's periods ordered by end time
func (s *Storage) QueryRange(ctx context.Context, q storage.Query, from, to int) ([]period.StoredInterval, bool, error) {
	if err := storage.ValidateRange(from, to); err != nil {
		return nil, false, err
	}

	var (
		rows []period.StoredInterval
		more bool
	)
	startTime := time.Now()

	err := s.run(ctx, "query", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := userPrefix(prefixPeriod, q.UserID)

			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.Reverse = q.Descending
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			seek := prefix
			if q.Descending {
				seek = upperBound(prefix)
			}

			pos := 0
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				// Check for cancellation every 1000 rows
				if pos%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				var iv period.Interval
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &iv)
				}); err != nil {
					return fmt.Errorf("failed to decode period: %w", err)
				}
				// Different users can share a hash prefix
				if iv.UserID != q.UserID {
					continue
				}

				if pos > to {
					more = true
					return nil
				}
				if pos >= from {
					rowID, err := rowIDFromKey(item.Key())
					if err != nil {
						return err
					}
					rows = append(rows, period.StoredInterval{RowID: rowID, Interval: iv})
				}
				pos++
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}

	if elapsed := time.Since(startTime); elapsed > slowOp {
		s.logger.Warn("slow query",
			zap.String("user_id", q.UserID),
			zap.Int("from", from),
			zap.Duration("elapsed", elapsed))
	}
	return rows, more, nil
}

// InsertIntervals stores intervals under fresh row ids in one transaction
func (s *Storage) InsertIntervals(ctx context.Context, intervals []period.Interval) error {
	return s.Replace(ctx, nil, intervals)
}

// DeleteRows removes rows by id
func (s *Storage) DeleteRows(ctx context.Context, ids []string) error {
	return s.Replace(ctx, ids, nil)
}

// Replace deletes rows and inserts intervals in a single transaction.
func (s *Storage) Replace(ctx context.Context, deleteIDs []string, inserts []period.Interval) error {
	for _, iv := range inserts {
		if err := storage.ValidateInterval(iv); err != nil {
			return err
		}
	}
	if len(deleteIDs) == 0 && len(inserts) == 0 {
		return nil
	}

	return s.run(ctx, "write", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, id := range deleteIDs {
				if err := deleteRow(txn, id); err != nil {
					return err
				}
			}

			for i, iv := range inserts {
				// Check context periodically (every 100 periods)
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				iv.Start = period.Normalize(iv.Start)
				iv.End = period.Normalize(iv.End)
				value, err := json.Marshal(iv)
				if err != nil {
					return fmt.Errorf("failed to encode period: %w", err)
				}

				id := uuid.New()
				key := makePeriodKey(iv.UserID, iv.End, id)
				if err := txn.Set(key, value); err != nil {
					return fmt.Errorf("failed to write period: %w", err)
				}
				if err := txn.Set(rowIndexKey(id), key); err != nil {
					return fmt.Errorf("failed to write row index: %w", err)
				}
			}
			return nil
		})
	})
}

func deleteRow(txn *badger.Txn, rowID string) error {
	id, err := uuid.Parse(rowID)
	if err != nil {
		return nil // not a row id this store assigned
	}

	idx := rowIndexKey(id)
	item, err := txn.Get(idx)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read row index: %w", err)
	}

	key, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("failed to read row index: %w", err)
	}
	if err := txn.Delete(key); err != nil {
		return fmt.Errorf("failed to delete period: %w", err)
	}
	return txn.Delete(idx)
}

// EnsureRoom returns the room id for (userID, name), creating it if needed
func (s *Storage) EnsureRoom(ctx context.Context, userID, name string) (string, error) {
	if userID == "" || name == "" {
		return "", fmt.Errorf("%w: room needs a user and a name", storage.ErrInvalidArgument)
	}

	var roomID string
	err := s.run(ctx, "ensure room", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			key := roomKey(userID, name)

			item, err := txn.Get(key)
			switch {
			case err == nil:
				var r storage.Room
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &r)
				}); err != nil {
					return fmt.Errorf("failed to decode room: %w", err)
				}
				roomID = r.ID
				return nil
			case !errors.Is(err, badger.ErrKeyNotFound):
				return fmt.Errorf("failed to read room: %w", err)
			}

			r := storage.Room{ID: uuid.NewString(), UserID: userID, Name: name}
			value, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode room: %w", err)
			}
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("failed to write room: %w", err)
			}
			roomID = r.ID
			return nil
		})
	})
	// Two concurrent creators of the same room: the loser retries and reads the winner's id.
	if errors.Is(err, badger.ErrConflict) {
		return s.EnsureRoom(ctx, userID, name)
	}
	return roomID, err
}

// ListRooms returns the user's rooms ordered by name
func (s *Storage) ListRooms(ctx context.Context, userID string) ([]storage.Room, error) {
	var rooms []storage.Room
	err := s.run(ctx, "list rooms", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := roomKey(userID, "")

			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
				var r storage.Room
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &r)
				}); err != nil {
					return fmt.Errorf("failed to decode room: %w", err)
				}
				rooms = append(rooms, r)
			}
			return nil
		})
	})
	return rooms, err
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			users := make(map[string]bool)

			periods := []byte{prefixPeriod}
			opts := badger.DefaultIteratorOptions
			opts.Prefix = periods
			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.ValidForPrefix(periods); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				var iv period.Interval
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &iv)
				}); err != nil {
					return fmt.Errorf("failed to decode period: %w", err)
				}

				stats.TotalIntervals++
				users[iv.UserID] = true
				if stats.Oldest.IsZero() || iv.Start.Before(stats.Oldest) {
					stats.Oldest = iv.Start
				}
				if iv.End.After(stats.Newest) {
					stats.Newest = iv.End
				}
			}
			stats.TotalUsers = uint64(len(users))

			rooms := []byte{prefixRoom}
			ropts := badger.DefaultIteratorOptions
			ropts.Prefix = rooms
			ropts.PrefetchValues = false
			rit := txn.NewIterator(ropts)
			defer rit.Close()
			for rit.Rewind(); rit.ValidForPrefix(rooms); rit.Next() {
				stats.TotalRooms++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// userPrefix is prefix | xxhash(user)
func userPrefix(prefix byte, userID string) []byte {
	key := make([]byte, 1+hashLen)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], xxhash.Sum64String(userID))
	return key
}

// upperBound returns a key sorting after every period key under prefix
func upperBound(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xFF}, periodKey-len(prefix))...)
}

// makePeriodKey creates a sortable key: prefix + user hash + end + row id
// Format: [p][user_hash (8 bytes)][end (8 bytes)][row id (16 bytes)]
func makePeriodKey(userID string, end time.Time, id uuid.UUID) []byte {
	key := make([]byte, 0, periodKey)
	key = append(key, userPrefix(prefixPeriod, userID)...)
	key = binary.BigEndian.AppendUint64(key, sortableNanos(end))
	return append(key, id[:]...)
}

// sortableNanos flips the sign bit so pre-1970 times still sort first
func sortableNanos(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ (1 << 63)
}

func rowIDFromKey(key []byte) (string, error) {
	if len(key) != periodKey {
		return "", fmt.Errorf("malformed period key of %d bytes", len(key))
	}
	id, err := uuid.FromBytes(key[periodKey-rowIDLen:])
	if err != nil {
		return "", fmt.Errorf("malformed row id in key: %w", err)
	}
	return id.String(), nil
}

func rowIndexKey(id uuid.UUID) []byte {
	return append([]byte{prefixRowIdx}, id[:]...)
}

// roomKey is m | xxhash(user) | user \x00 name. An empty name yields the
// prefix of all of the user's rooms.
func roomKey(userID, name string) []byte {
	key := userPrefix(prefixRoom, userID)
	key = append(key, userID...)
	key = append(key, 0)
	return append(key, name...)
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
