package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nicktill/roomusage/pkg/pagination"
)

// EnvPrefix prefixes every environment variable the service reads
const EnvPrefix = "ROOMUSAGE"

// Storage backends
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config is the runtime configuration of the server.
type Config struct {
	Port           string
	Backend        string
	DataDir        string
	MaxMemoryMB    int64
	MaxStorageGB   int64 // 0 = unlimited; only checked for the badger backend
	DatabaseURL    string
	Location       *time.Location
	PageSize       int
	KafkaBrokers   []string
	KafkaTopic     string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
}

// Load reads configuration from the environment. Files named in envFiles are
// loaded first with godotenv; missing files are skipped and real environment
// variables win over file values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", DefaultPort)
	v.SetDefault("backend", DefaultBackend)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("max_memory_mb", DefaultMaxMemoryMB)
	v.SetDefault("max_storage_gb", DefaultMaxStorageGB)
	v.SetDefault("timezone", DefaultTimezone)
	v.SetDefault("page_size", pagination.PageSize)
	v.SetDefault("kafka_topic", DefaultKafkaTopic)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("allowed_origins", "*")

	// Hosting platforms inject DATABASE_URL and PORT without our prefix
	if err := v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("port", EnvPrefix+"_PORT", "PORT"); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		Backend:        strings.ToLower(v.GetString("backend")),
		DataDir:        v.GetString("data_dir"),
		MaxMemoryMB:    v.GetInt64("max_memory_mb"),
		MaxStorageGB:   v.GetInt64("max_storage_gb"),
		DatabaseURL:    v.GetString("database_url"),
		PageSize:       v.GetInt("page_size"),
		KafkaBrokers:   splitList(v.GetString("kafka_brokers")),
		KafkaTopic:     v.GetString("kafka_topic"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", v.GetString("timezone"), err)
	}
	cfg.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendBadger:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("backend %q needs %s_DATABASE_URL or DATABASE_URL", c.Backend, EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown backend %q (want memory, badger or postgres)", c.Backend)
	}

	if c.PageSize <= 0 || c.PageSize > pagination.PageSize {
		return fmt.Errorf("page size %d out of range [1, %d]", c.PageSize, pagination.PageSize)
	}
	if c.MaxStorageGB < 0 {
		return fmt.Errorf("max storage %d GB must not be negative", c.MaxStorageGB)
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
