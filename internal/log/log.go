package log

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	mu     sync.RWMutex
	logger = newLogger(zerolog.InfoLevel)
)

func newLogger(lvl zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: timeFormat}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum level. Unknown names fall back to info.
func SetLevel(name string) {
	mu.Lock()
	logger = newLogger(parseLevel(name))
	mu.Unlock()
}

func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug(msg string, kv ...any) {
	emit(zerolog.DebugLevel, msg, kv)
}

func Info(msg string, kv ...any) {
	emit(zerolog.InfoLevel, msg, kv)
}

func Warn(msg string, kv ...any) {
	emit(zerolog.WarnLevel, msg, kv)
}

// Error logs msg with the error prepended to the key-value list.
func Error(msg string, err error, kv ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	e := l.Error().Err(err)
	applyKVs(e, kv)
	e.Msg(msg)
}

func emit(lvl zerolog.Level, msg string, kv []any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	e := l.WithLevel(lvl)
	applyKVs(e, kv)
	e.Msg(msg)
}

// applyKVs expects kv as pairs: key, value, key, value, ...
// Non-string keys and a trailing odd value are ignored.
func applyKVs(e *zerolog.Event, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e.Interface(key, kv[i+1])
	}
}
