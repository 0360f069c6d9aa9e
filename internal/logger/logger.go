// Package logger configures the process-wide slog logger. Services receive a
// *slog.Logger and never read the environment themselves.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// envLogLevel overrides the default level ("debug", "info", "warn", "error").
const envLogLevel = "RUNFLOW_LOG_LEVEL"

// New creates a text-handler logger named for its subsystem, with the level
// taken from RUNFLOW_LOG_LEVEL (default info).
func New(name string) *slog.Logger {
	return NewWithOutput(name, os.Stdout)
}

// NewWithOutput creates a logger writing to the given output. Used by tests.
func NewWithOutput(name string, output io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: levelFromEnv(),
	})
	return slog.New(handler).With("service", name)
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv(envLogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
