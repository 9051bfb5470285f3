package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/export"
	"github.com/nicktill/roomusage/pkg/ingest"
	"github.com/nicktill/roomusage/pkg/metrics"
	"github.com/nicktill/roomusage/pkg/notify"
	"github.com/nicktill/roomusage/pkg/server/monitor"
	"github.com/nicktill/roomusage/pkg/storage"
	"github.com/nicktill/roomusage/pkg/storage/badger"
	"github.com/nicktill/roomusage/pkg/storage/memory"
	"github.com/nicktill/roomusage/pkg/storage/postgres"
	"github.com/nicktill/roomusage/pkg/upload"
	"github.com/nicktill/roomusage/pkg/usage"
)

// Server holds the wired components of the service.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	store  storage.Store

	metrics        *metrics.Metrics
	hub            *ingest.Hub
	kafka          *notify.KafkaSink
	uploadMonitor  *monitor.UploadMonitor
	storageMonitor *monitor.StorageMonitor // nil unless the backend writes to DataDir

	uploads *upload.Service
	ingest  *ingest.Handler
	usage   *usage.Handler
	export  *export.Handler
}

// InitializeStorage opens the backend named by cfg.Backend.
func InitializeStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage, periods are lost on restart")
		return memory.New(), nil

	case config.BackendBadger:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(cfg.DataDir, "periods")
		store, err := badger.New(badger.Config{
			Path:        path,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("badger storage opened", zap.String("path", path), zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
		return store, nil

	case config.BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{DatabaseURL: cfg.DatabaseURL, Logger: logger})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// New wires handlers, notification sinks and monitors around store.
// The caller keeps ownership of store; Close releases only what New opened.
func New(cfg *config.Config, store storage.Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		metrics:       metrics.New(),
		hub:           ingest.NewHub(logger),
		uploadMonitor: monitor.NewUploadMonitor(config.MaxConsecutiveUploadFailures),
	}

	sinks := notify.Multi{notify.NewLogSink(logger), s.hub}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafkaSink(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		s.kafka = k
		sinks = append(sinks, k)
		logger.Info("kafka notifications enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	s.uploads = upload.New(upload.Config{
		Store:    store,
		Sink:     sinks,
		Logger:   logger,
		Metrics:  s.metrics,
		Monitor:  s.uploadMonitor,
		Location: cfg.Location,
		PageSize: cfg.PageSize,
	})

	s.ingest = ingest.NewHandler(s.uploads, store, logger)
	s.ingest.SetPageSize(cfg.PageSize)
	if cfg.Backend == config.BackendBadger && cfg.MaxStorageGB > 0 {
		s.storageMonitor = monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB<<30)
		s.ingest.SetStorageChecker(s.storageMonitor)
		logger.Info("storage limit enabled", zap.Int64("max_storage_gb", cfg.MaxStorageGB))
	}

	s.usage = usage.NewHandler(store, cfg.Location, cfg.PageSize)
	s.export = export.NewHandler(store, cfg.Location, cfg.PageSize, logger)

	return s, nil
}

// Hub returns the websocket hub
func (s *Server) Hub() *ingest.Hub {
	return s.hub
}

// Close flushes the Kafka writer if one was opened.
func (s *Server) Close() error {
	if s.kafka == nil {
		return nil
	}
	if err := s.kafka.Close(); err != nil {
		return fmt.Errorf("failed to close kafka sink: %w", err)
	}
	return nil
}
