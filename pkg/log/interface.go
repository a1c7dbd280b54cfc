// Package log provides structured logging for xgbridge.
//
// The Logger interface is slog-compatible so callers can plug in their own
// backend. The default implementation is backed by zerolog; SetupLogger
// installs a JSON slog handler for applications that prefer log/slog.
//
// Every native call is logged at Debug with the entry point name and the
// handle it touched:
//
//	logger := log.GetLoggerWithName("dataset")
//	logger.Debug("native call",
//	    log.NativeOpKey, "XGDMatrixCreateFromDense",
//	    log.RowsKey, 1000,
//	    log.ColsKey, 12,
//	)
package log

import (
	"context"
)

// Logger is a structured logger compatible with log/slog conventions.
//
// Fields are passed as alternating key/value pairs. For Error, an error value
// may be passed as the first field; it is recorded under ErrAttrKey.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level are emitted.
	Enabled(ctx context.Context, level Level) bool
}

// Level is a logging level with slog.Level values.
type Level int

// Standard logging levels.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
