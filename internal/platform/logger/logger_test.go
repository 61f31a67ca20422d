package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageproxy/mirage/internal/config"
	"github.com/mirageproxy/mirage/internal/platform/logger"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"debug enables everything", "debug", slog.LevelDebug, slog.LevelDebug},
		{"warn filters info", "warn", slog.LevelWarn, slog.LevelInfo},
		{"error filters warn", "error", slog.LevelError, slog.LevelWarn},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log, err := logger.Setup(config.ServerConfig{LogLevel: tc.level})
			require.NoError(t, err)
			require.NotNil(t, log)

			assert.True(t, log.Enabled(context.Background(), tc.enabled))
			if tc.disabled < tc.enabled {
				assert.False(t, log.Enabled(context.Background(), tc.disabled))
			}
		})
	}

	t.Run("unknown level falls back to info", func(t *testing.T) {
		log, err := logger.Setup(config.ServerConfig{LogLevel: "verbose"})
		require.NoError(t, err)
		assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	})
}
