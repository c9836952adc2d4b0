// Package logging wires zerolog for the packsync CLI and defines the small
// Logger interface that library packages accept.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger provides structured logging for update operations.
// This interface allows callers to plug in their own logging implementation.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// noopLogger is a Logger implementation that does nothing.
// This is the default logger used when none is provided.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Noop returns the default no-op logger.
func Noop() Logger {
	return &noopLogger{}
}

// zeroLogger adapts a zerolog.Logger to Logger.
type zeroLogger struct {
	logger zerolog.Logger
}

// NewZerolog wraps a zerolog logger.
func NewZerolog(logger zerolog.Logger) Logger {
	return &zeroLogger{logger: logger}
}

func (z *zeroLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.logger.Debug().Fields(fields(keysAndValues)).Msg(msg)
}

func (z *zeroLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Info().Fields(fields(keysAndValues)).Msg(msg)
}

func (z *zeroLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.logger.Warn().Fields(fields(keysAndValues)).Msg(msg)
}

func (z *zeroLogger) Error(msg string, keysAndValues ...interface{}) {
	z.logger.Error().Fields(fields(keysAndValues)).Msg(msg)
}

// fields turns alternating key/value pairs into a map. A trailing key
// without a value is recorded under "!BADKEY".
func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 >= len(keysAndValues) {
			out["!BADKEY"] = key
			break
		}
		out[key] = keysAndValues[i+1]
	}
	return out
}

// Setup configures the global zerolog logger based on verbosity.
// Output goes to the console and, when logFile is non-empty and can be
// opened, to an append-only log file as well.
func Setup(verbosity int, logFile string) {
	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}}

	var fileErr error
	if logFile != "" {
		var handle *os.File
		handle, fileErr = openLogFile(logFile)
		if fileErr == nil {
			writers = append(writers, handle)
		}
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logFile).Msg("Failed to create log file, logging to console only")
	}

	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", verbosity).Str("logFile", logFile).Msg("Logger initialized")
}

// Component returns the global logger tagged with a component name.
func Component(name string) Logger {
	return NewZerolog(log.With().Str("component", name).Logger())
}

// DefaultLogFile returns the log path under XDG_STATE_HOME.
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "packsync", "packsync.log")
}

// openLogFile creates the log file and its parent directories.
func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
