// Package logging provides the structured logger used across stockadvisor.
// It is a thin wrapper over zap that fixes the service's conventions:
// ISO8601 timestamps, an explicit error slot on failure paths, and domain
// field constructors for the (route, date) and session keys most log lines
// carry.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AdvisorLogger provides the structured logging interface for stockadvisor
type AdvisorLogger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, err error, fields ...zap.Field)
	Fatal(msg string, err error, fields ...zap.Field)
	With(fields ...zap.Field) AdvisorLogger
	Sync() error
}

// LoggerConfig defines logger configuration
type LoggerConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Output      string `yaml:"output"`
	Development bool   `yaml:"development"`
}

// Logger implements AdvisorLogger using zap
type Logger struct {
	zl *zap.Logger
}

// NewLogger builds a logger from configuration via zap's declarative config,
// so output routing (stdout, stderr, file paths) and sampling follow zap's
// own rules rather than hand-assembled cores.
func NewLogger(config LoggerConfig) (AdvisorLogger, error) {
	level, err := zapcore.ParseLevel(orDefault(config.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	zc := zap.NewProductionConfig()
	if config.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	switch format := strings.ToLower(config.Format); format {
	case "json", "console":
		zc.Encoding = format
	case "":
		zc.Encoding = "console"
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	zc.OutputPaths = []string{orDefault(config.Output, "stdout")}
	zc.ErrorOutputPaths = []string{"stderr"}

	zl, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{zl: zl}, nil
}

// NewDefaultLogger creates a development console logger for code paths that
// run before configuration is loaded.
func NewDefaultLogger() AdvisorLogger {
	zl, err := zap.NewDevelopment()
	if err != nil {
		zl = zap.NewNop()
	}
	return &Logger{zl: zl}
}

// NewNopLogger creates a logger that discards everything. Used in tests.
func NewNopLogger() AdvisorLogger {
	return &Logger{zl: zap.NewNop()}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// withError prepends the error field when one is present, keeping the error
// first in the output line.
func withError(err error, fields []zap.Field) []zap.Field {
	if err == nil {
		return fields
	}
	return append([]zap.Field{zap.Error(err)}, fields...)
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zl.Debug(msg, fields...) }

// Info logs an info message with optional fields
func (l *Logger) Info(msg string, fields ...zap.Field) { l.zl.Info(msg, fields...) }

// Warn logs a warning message with optional fields
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.zl.Warn(msg, fields...) }

// Error logs an error message with the error and optional fields
func (l *Logger) Error(msg string, err error, fields ...zap.Field) {
	l.zl.Error(msg, withError(err, fields)...)
}

// Fatal logs a fatal message with the error and optional fields, then exits
func (l *Logger) Fatal(msg string, err error, fields ...zap.Field) {
	l.zl.Fatal(msg, withError(err, fields)...)
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) AdvisorLogger {
	return &Logger{zl: l.zl.With(fields...)}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error { return l.zl.Sync() }

// LoggerFields provides common field constructors for structured logging
type LoggerFields struct{}

// Fields provides convenient field constructors
var Fields LoggerFields

// RouteDate creates fields for (route, date) keyed operations
func (LoggerFields) RouteDate(route string, date time.Time) []zap.Field {
	return []zap.Field{
		zap.String("route", route),
		zap.String("date", date.Format("2006-01-02")),
	}
}

// Session creates fields for supervision session context
func (LoggerFields) Session(sessionID, route string) []zap.Field {
	return []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("route", route),
	}
}

// Database creates fields for warehouse context
func (LoggerFields) Database(host string, port int, database string) []zap.Field {
	return []zap.Field{
		zap.String("db_host", host),
		zap.Int("db_port", port),
		zap.String("db_name", database),
	}
}

// Generation creates fields for recommendation generation context
func (LoggerFields) Generation(route string, rows int, elapsed time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("route", route),
		zap.Int("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
}
