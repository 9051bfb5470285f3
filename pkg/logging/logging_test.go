package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	for _, tt := range []struct {
		level, format string
		want          zap.AtomicLevel
	}{
		{"info", "json", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"DEBUG", "console", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{" warn ", "", zap.NewAtomicLevelAt(zap.WarnLevel)},
	} {
		logger, err := New(tt.level, tt.format)
		require.NoError(t, err, tt.level)
		assert.True(t, logger.Core().Enabled(tt.want.Level()), tt.level)
		assert.False(t, logger.Core().Enabled(tt.want.Level()-1), tt.level)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}
