// Package postgres stores rooms and usage periods in PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

// Schema creates the two tables the store needs. gen_random_uuid is built in since PostgreSQL 13.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id    text NOT NULL,
    name       text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT now(),
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS rooms_usage_periods (
    id              uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id         text NOT NULL,
    room_id         text NOT NULL DEFAULT '',
    start_timestamp timestamptz NOT NULL,
    end_timestamp   timestamptz NOT NULL,
    value           smallint NOT NULL CHECK (value IN (0, 1)),
    CHECK (start_timestamp < end_timestamp)
);

CREATE INDEX IF NOT EXISTS rooms_usage_periods_user_end_idx
    ON rooms_usage_periods (user_id, end_timestamp, id);
`

// count(*) OVER () is evaluated before LIMIT, so every page also carries the
// total and the reader can stop without requesting an empty trailing page.
const (
	selectPageAscSQL = `
    SELECT id::text, user_id, room_id, start_timestamp, end_timestamp, value, count(*) OVER ()
    FROM rooms_usage_periods
    WHERE user_id = $1
    ORDER BY end_timestamp ASC, id ASC
    LIMIT $2 OFFSET $3`

	selectPageDescSQL = `
    SELECT id::text, user_id, room_id, start_timestamp, end_timestamp, value, count(*) OVER ()
    FROM rooms_usage_periods
    WHERE user_id = $1
    ORDER BY end_timestamp DESC, id DESC
    LIMIT $2 OFFSET $3`

	insertPeriodSQL = `
    INSERT INTO rooms_usage_periods (user_id, room_id, start_timestamp, end_timestamp, value)
    VALUES ($1, $2, $3, $4, $5)`

	deletePeriodsSQL = `DELETE FROM rooms_usage_periods WHERE id = ANY($1)`

	ensureRoomSQL = `
    INSERT INTO rooms (user_id, name) VALUES ($1, $2)
    ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
    RETURNING id::text`

	listRoomsSQL = `
    SELECT id::text, user_id, name
    FROM rooms
    WHERE user_id = $1
    ORDER BY name`

	statsSQL = `
    SELECT count(*), count(DISTINCT user_id), min(start_timestamp), max(end_timestamp),
           (SELECT count(*) FROM rooms),
           pg_total_relation_size('rooms_usage_periods') + pg_total_relation_size('rooms')
    FROM rooms_usage_periods`
)

// Config holds connection settings
type Config struct {
	// DatabaseURL is a libpq connection string or URL
	DatabaseURL string

	// MaxConns caps the pool (0 = pgx default)
	MaxConns int32

	// Logger receives connection lifecycle messages (nil = no logging)
	Logger *zap.Logger
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New opens a pool and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "postgres"))
	logger.Info("connected",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))

	return &Store{pool: pool, logger: logger}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// QueryRange returns one page of the user's periods ordered by end time
func (s *Store) QueryRange(ctx context.Context, q storage.Query, from, to int) ([]period.StoredInterval, bool, error) {
	if err := storage.ValidateRange(from, to); err != nil {
		return nil, false, err
	}

	query := selectPageAscSQL
	if q.Descending {
		query = selectPageDescSQL
	}

	rows, err := s.pool.Query(ctx, query, q.UserID, to-from+1, from)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var (
		page  []period.StoredInterval
		total int64
	)
	for rows.Next() {
		var (
			r     period.StoredInterval
			value int16
		)
		if err := rows.Scan(
			&r.RowID,
			&r.Interval.UserID,
			&r.Interval.RoomID,
			&r.Interval.Start,
			&r.Interval.End,
			&value,
			&total,
		); err != nil {
			return nil, false, fmt.Errorf("failed to scan period: %w", err)
		}
		r.Interval.Start = period.Normalize(r.Interval.Start)
		r.Interval.End = period.Normalize(r.Interval.End)
		r.Interval.Value = int(value)
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read periods: %w", err)
	}

	return page, int64(from+len(page)) < total, nil
}

// InsertIntervals writes all intervals in one transaction
func (s *Store) InsertIntervals(ctx context.Context, intervals []period.Interval) error {
	return s.Replace(ctx, nil, intervals)
}

// DeleteRows removes rows by id
func (s *Store) DeleteRows(ctx context.Context, ids []string) error {
	return s.Replace(ctx, ids, nil)
}

// Replace deletes rows and inserts intervals inside one transaction.
func (s *Store) Replace(ctx context.Context, deleteIDs []string, inserts []period.Interval) error {
	for _, iv := range inserts {
		if err := storage.ValidateInterval(iv); err != nil {
			return err
		}
	}
	ids := validIDs(deleteIDs)
	if len(ids) == 0 && len(inserts) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if len(ids) > 0 {
			if _, err := tx.Exec(ctx, deletePeriodsSQL, ids); err != nil {
				return fmt.Errorf("failed to delete periods: %w", err)
			}
		}
		if len(inserts) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, iv := range inserts {
			batch.Queue(insertPeriodSQL,
				iv.UserID,
				iv.RoomID,
				period.Normalize(iv.Start),
				period.Normalize(iv.End),
				int16(iv.Value))
		}

		res := tx.SendBatch(ctx, batch)
		defer res.Close()

		for range inserts {
			if _, err := res.Exec(); err != nil {
				return fmt.Errorf("failed to insert period: %w", err)
			}
		}
		return res.Close()
	})
}

// validIDs drops ids that cannot be row ids; the rest bind as uuid[].
func validIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if u, err := uuid.Parse(id); err == nil {
			out = append(out, u)
		}
	}
	return out
}

// EnsureRoom returns the room id for (userID, name), creating it if needed
func (s *Store) EnsureRoom(ctx context.Context, userID, name string) (string, error) {
	if userID == "" || name == "" {
		return "", fmt.Errorf("%w: room needs a user and a name", storage.ErrInvalidArgument)
	}

	var id string
	if err := s.pool.QueryRow(ctx, ensureRoomSQL, userID, name).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to ensure room %q: %w", name, err)
	}
	return id, nil
}

// ListRooms returns the user's rooms ordered by name
func (s *Store) ListRooms(ctx context.Context, userID string) ([]storage.Room, error) {
	rows, err := s.pool.Query(ctx, listRoomsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []storage.Room
	for rows.Next() {
		var r storage.Room
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// Stats returns storage statistics
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	var (
		stats          storage.Stats
		total, users   int64
		rooms, size    int64
		oldest, newest *time.Time
	)
	if err := s.pool.QueryRow(ctx, statsSQL).Scan(&total, &users, &oldest, &newest, &rooms, &size); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats.TotalIntervals = uint64(total)
	stats.TotalUsers = uint64(users)
	stats.TotalRooms = uint64(rooms)
	stats.SizeBytes = uint64(size)
	if oldest != nil {
		stats.Oldest = period.Normalize(*oldest)
	}
	if newest != nil {
		stats.Newest = period.Normalize(*newest)
	}
	return &stats, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
