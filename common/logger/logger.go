// Package logger provides the leveled logging facade used across the RAG
// core, backed by zerolog. Library packages log through the package-level
// functions so the embedding host controls sinks and levels in one place.
package logger

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents log severity levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "ragcore").Logger().Level(zerolog.InfoLevel)
)

// SetLevel sets the minimum level emitted by the package logger.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(toZerolog(level))
}

// SetOutput replaces the underlying logger, e.g. with a console writer in
// tests or the host application's configured zerolog instance.
func SetOutput(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// UseConsoleWriter switches to human-readable output on stderr.
func UseConsoleWriter() {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	l := current()
	l.Debug().Msgf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	l := current()
	l.Info().Msgf(format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	l := current()
	l.Warn().Msgf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	l := current()
	l.Error().Msgf(format, args...)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
