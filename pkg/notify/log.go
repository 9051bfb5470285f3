package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. Duplicates and failures are warnings.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging through logger
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.With(zap.String("component", "notify"))}
}

// Notify logs e; it never fails
func (s *LogSink) Notify(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("user_id", e.UserID),
		zap.Int("count", e.Count),
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}

	switch e.Type {
	case DuplicatePeriods, UploadFailed:
		s.logger.Warn("upload notification", fields...)
	default:
		s.logger.Info("upload notification", fields...)
	}
	return nil
}
