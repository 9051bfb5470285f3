package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/roomusage/pkg/pagination"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, int64(DefaultMaxMemoryMB), cfg.MaxMemoryMB)
	assert.Equal(t, int64(DefaultMaxStorageGB), cfg.MaxStorageGB)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, pagination.PageSize, cfg.PageSize)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ROOMUSAGE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/rooms")
	t.Setenv("ROOMUSAGE_TIMEZONE", "Europe/Rome")
	t.Setenv("ROOMUSAGE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ROOMUSAGE_PAGE_SIZE", "250")
	t.Setenv("ROOMUSAGE_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/rooms", cfg.DatabaseURL)
	assert.Equal(t, "Europe/Rome", cfg.Location.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250, cfg.PageSize)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ROOMUSAGE_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("ROOMUSAGE_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("ROOMUSAGE_LOG_LEVEL"))

	cfg, err := Load(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown backend":      {"ROOMUSAGE_BACKEND": "sqlite"},
		"postgres without url": {"ROOMUSAGE_BACKEND": "postgres", "DATABASE_URL": "", "ROOMUSAGE_DATABASE_URL": ""},
		"page size above cap":  {"ROOMUSAGE_PAGE_SIZE": "5000"},
		"unknown timezone":     {"ROOMUSAGE_TIMEZONE": "Mars/Olympus"},
		"negative storage cap": {"ROOMUSAGE_MAX_STORAGE_GB": "-1"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
