package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
)

// garbageCollector is implemented by the badger backend
type garbageCollector interface {
	RunGC(discardRatio float64) error
}

// Start launches the background tasks: the websocket hub and, for badger,
// value log garbage collection. They stop when ctx is canceled; wg is done
// once each has returned.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()

	gc, ok := s.store.(garbageCollector)
	if !ok {
		s.logger.Debug("storage has no value log, skipping GC scheduler")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		RunBadgerGC(ctx, gc, config.BadgerGCInterval, s.logger)
	}()
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk space.
// BadgerDB uses LSM trees which accumulate deleted data in value log, and
// every reconciliation that extends a period deletes a row.
func RunBadgerGC(ctx context.Context, gc garbageCollector, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger = logger.With(zap.String("component", "gc"))
	logger.Info("badger GC scheduler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// One pass per tick to avoid blocking writers for long
			if err := gc.RunGC(config.BadgerGCDiscardRatio); err != nil {
				logger.Warn("badger GC failed", zap.Error(err))
				continue
			}
			logger.Debug("badger GC finished", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
		case <-ctx.Done():
			logger.Info("stopping badger GC scheduler")
			return
		}
	}
}
