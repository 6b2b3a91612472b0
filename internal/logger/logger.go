package logger

import (
	"context"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// supportedLevels are the level names accepted in configuration and on the command line.
//
//nolint:gochecknoglobals // Read-only lookup table.
var supportedLevels = []zapcore.Level{
	zapcore.DebugLevel,
	zapcore.InfoLevel,
	zapcore.WarnLevel,
	zapcore.ErrorLevel,
}

var (
	//nolint:gochecknoglobals // Every package logs through the same console logger.
	global *zap.SugaredLogger
	// sharedLevel gates the global logger and every logger built with a nil level.
	//nolint:gochecknoglobals // Config is loaded after loggers are derived, so the level must be shared.
	sharedLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

//nolint:gochecknoinits // Logging must work before the command line is parsed.
func init() {
	SetLogger(New(nil))
}

// New returns a console logger on stderr; stdout is reserved for command output
// such as the added-file listing and descriptor dumps.
func New(level zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	return NewWithSink(zapcore.Lock(os.Stderr), level, options...)
}

// NewWithSink returns a console logger writing to sink.
// A nil level means the shared level controlled by SetLevel.
func NewWithSink(sink zapcore.WriteSyncer, level zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	if level == nil {
		level = sharedLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), sink, level)

	return zap.New(core, options...).Sugar()
}

// consoleEncoderConfig lays out one line per message: level, logger name, message, fields.
// Time is omitted; packager runs are short and interactive.
func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	cfg.MessageKey = "message"
	cfg.NameKey = "logger"
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.ConsoleSeparator = ", "

	return cfg
}

// ParseLogLevel maps a configured level name to a zap level.
// Unknown or empty names report false and fall back to info.
func ParseLogLevel(s string) (zapcore.Level, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return zapcore.InfoLevel, false
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil || !slices.Contains(supportedLevels, level) {
		return zapcore.InfoLevel, false
	}

	return level, true
}

// Level returns the shared logging level.
func Level() zapcore.Level {
	return sharedLevel.Level()
}

// Logger returns the global logger.
func Logger() *zap.SugaredLogger {
	return global
}

// SetLogger replaces the global logger. Call it before any goroutine logs.
func SetLogger(l *zap.SugaredLogger) {
	global = l
}

// SetLevel changes the shared level; loggers already stored in contexts follow it.
func SetLevel(level zapcore.Level) {
	sharedLevel.SetLevel(level)

	_ = global.Sync()
}

// DebugKV logs message with key-value pairs at debug level.
func DebugKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Debugw(message, kvs...)
}

// InfoKV logs message with key-value pairs at info level.
func InfoKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Infow(message, kvs...)
}

// WarnKV logs message with key-value pairs at warn level.
// Recoverable anomalies use it: shadowed descriptors, stale run markers, declined overwrites.
func WarnKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Warnw(message, kvs...)
}
