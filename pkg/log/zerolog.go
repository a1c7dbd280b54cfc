package log

import (
	"context"
	"io"
	"os"
	"sync"

	xerrors "github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewZerologLogger(os.Stderr, LevelWarn)
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// GetLoggerWithName returns the process-wide logger tagged with a component name.
func GetLoggerWithName(name string) Logger {
	return GetLogger().With(ComponentKey, name)
}

// SetLogger replaces the process-wide logger. A nil logger discards output.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = NewZerologLogger(io.Discard, LevelError)
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// ToZerologLevel maps a Level to the zerolog level.
func ToZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

type zerologLogger struct {
	logger zerolog.Logger
	level  Level
}

// NewZerologLogger returns a Logger writing JSON lines to w through zerolog.
func NewZerologLogger(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).Level(ToZerologLevel(level)).With().Timestamp().Logger()
	return &zerologLogger{logger: zl, level: level}
}

func (z *zerologLogger) Debug(msg string, fields ...any) {
	z.emit(z.logger.Debug(), msg, fields)
}

func (z *zerologLogger) Info(msg string, fields ...any) {
	z.emit(z.logger.Info(), msg, fields)
}

func (z *zerologLogger) Warn(msg string, fields ...any) {
	z.emit(z.logger.Warn(), msg, fields)
}

func (z *zerologLogger) Error(msg string, fields ...any) {
	z.emit(z.logger.Error(), msg, fields)
}

func (z *zerologLogger) With(fields ...any) Logger {
	ctx := z.logger.With()
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			ctx = ctx.AnErr(ErrAttrKey, err)
			fields = fields[1:]
		}
	}
	ctx = ctx.Fields(pairs(fields))
	return &zerologLogger{logger: ctx.Logger(), level: z.level}
}

func (z *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return level >= z.level
}

func (z *zerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			addError(e, err)
			fields = fields[1:]
		}
	}
	e.Fields(pairs(fields)).Msg(msg)
}

// addError records err and, for the xgbridge taxonomy, its structured fields.
func addError(e *zerolog.Event, err error) {
	e.AnErr(ErrAttrKey, err)
	var obj zerolog.LogObjectMarshaler
	if xerrors.As(err, &obj) {
		e.Object("error_detail", obj)
	}
}

// pairs turns alternating key/value fields into a map; a trailing key
// without a value is dropped.
func pairs(fields []any) map[string]interface{} {
	m := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, isErr := fields[i+1].(error); isErr {
			m[key] = err.Error()
			continue
		}
		m[key] = fields[i+1]
	}
	return m
}

// InstallWarningHook routes errors.Warn through the process logger.
func InstallWarningHook() {
	xerrors.SetZerologWarnFunc(func(w error) {
		GetLoggerWithName("warnings").Warn(w.Error(), ErrorTypeKey, errorType(w))
	})
}
