package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetGlobal(t *testing.T) {
	t.Cleanup(func() {
		globalLogger.Store(zap.NewNop())
	})
}

// capture swaps the global logger for an observed one and returns the sink.
func capture(t *testing.T, level zapcore.LevelEnabler) *observer.ObservedLogs {
	t.Helper()
	resetGlobal(t)

	core, recorded := observer.New(level)
	globalLogger.Store(zap.New(core))
	return recorded
}

func TestInitConfiguresGlobalLogger(t *testing.T) {
	resetGlobal(t)

	require.NoError(t, Init("debug"))

	logger := Logger()
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zap.DebugLevel), "debug level should be enabled")
}

func TestInitWithConsoleFormat(t *testing.T) {
	resetGlobal(t)

	require.NoError(t, InitWithFormat("warn", "console"))

	logger := Logger()
	require.False(t, logger.Core().Enabled(zap.InfoLevel), "info should be filtered at warn")
	require.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	recorded := capture(t, zap.DebugLevel)

	Info("info message", zap.String("k", "v"))
	Error("error message")
	Warn("warn message")
	Debug("debug message")

	entries := recorded.All()
	require.Len(t, entries, 4)
	for i, want := range []string{"info message", "error message", "warn message", "debug message"} {
		require.Equal(t, want, entries[i].Message)
	}
	require.Equal(t, "v", entries[0].ContextMap()["k"])
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	recorded := capture(t, zap.InfoLevel)

	WithModule("vault").Info("module test")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "vault", entries[0].ContextMap()["module"])
}
