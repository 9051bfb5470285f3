package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nicktill/roomusage/pkg/storage"
	"github.com/nicktill/roomusage/pkg/storage/storagetest"
)

// testDatabaseEnv names a disposable database. Its tables are truncated by every test.
const testDatabaseEnv = "ROOMUSAGE_TEST_DATABASE_URL"

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	store, err := New(ctx, Config{DatabaseURL: dsn, MaxConns: 4, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	_, err = store.pool.Exec(ctx, `TRUNCATE rooms_usage_periods, rooms`)
	require.NoError(t, err)
	return store
}

func TestPostgresStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{DatabaseURL: "postgres://%zz"})
	assert.Error(t, err)
}

func TestValidIDs(t *testing.T) {
	ids := validIDs([]string{"not-a-uuid", "2b7e1516-28ae-d2a6-abf7-158809cf4f3c", ""})
	require.Len(t, ids, 1)
	assert.Equal(t, "2b7e1516-28ae-d2a6-abf7-158809cf4f3c", ids[0].String())
}
