package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// The process-wide logger. Stored atomically so handlers can keep logging
// while Init swaps the instance.
var globalLogger atomic.Pointer[zap.Logger]

func init() {
	// usable before Init runs, silent until then
	globalLogger.Store(zap.NewNop())
}

// Init configures the global logger at the given level with the JSON
// production encoder. Local installs that want human-readable output
// should call InitWithFormat with "console".
func Init(level string) error {
	return InitWithFormat(level, "json")
}

// InitWithFormat configures the global logger with an explicit encoding,
// "json" or "console". OTPDeck runs on a desktop as often as on a server,
// so the console encoder is a first-class option.
func InitWithFormat(level, format string) error {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	globalLogger.Store(built)
	return nil
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	return globalLogger.Load()
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with the subsystem name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Info logs at info level on the global logger.
func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

// Error logs at error level on the global logger.
func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

// Warn logs at warn level on the global logger.
func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

// Debug logs at debug level on the global logger.
func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}
