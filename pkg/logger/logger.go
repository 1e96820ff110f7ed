// Package logger provides structured logging for the randomness layer.
//
// It wraps zerolog behind a small component-scoped interface so callers
// never depend on the backend directly.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing JSON records to w at the given level.
func New(w io.Writer, component string, level string) *Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(parseLevel(level))
	return &Logger{zl: zl}
}

// NewDefault creates a logger for the component writing to stderr at the
// level selected by the LOG_LEVEL environment variable (default info).
func NewDefault(component string) *Logger {
	return New(os.Stderr, component, os.Getenv("LOG_LEVEL"))
}

// Named returns a child logger scoped to a sub-component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs msg at debug level with key/value pairs.
func (l *Logger) Debug(msg string, kv ...interface{}) { emit(l.zl.Debug(), msg, kv) }

// Info logs msg at info level with key/value pairs.
func (l *Logger) Info(msg string, kv ...interface{}) { emit(l.zl.Info(), msg, kv) }

// Warn logs msg at warn level with key/value pairs.
func (l *Logger) Warn(msg string, kv ...interface{}) { emit(l.zl.Warn(), msg, kv) }

// Error logs msg at error level with key/value pairs.
func (l *Logger) Error(msg string, kv ...interface{}) { emit(l.zl.Error(), msg, kv) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.zl.Info().Msgf(format, args...) }

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.zl.Warn().Msgf(format, args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

func emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case error:
			ev = ev.AnErr(key, v)
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case uint64:
			ev = ev.Uint64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case []byte:
			ev = ev.Hex(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
