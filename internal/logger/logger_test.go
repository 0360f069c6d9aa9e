package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("trigger", &buf)

	log.Info("Task triggered", "run_id", "run_abc")

	out := buf.String()
	assert.Contains(t, out, "service=trigger")
	assert.Contains(t, out, "Task triggered")
	assert.Contains(t, out, "run_id=run_abc")
}

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.value, func(t *testing.T) {
			t.Setenv(envLogLevel, tt.value)
			assert.Equal(t, tt.want, levelFromEnv())
		})
	}
}

func TestDefaultLevelSuppressesDebug(t *testing.T) {
	t.Setenv(envLogLevel, "")

	var buf bytes.Buffer
	log := NewWithOutput("trigger", &buf)
	log.Debug("hidden")
	assert.Empty(t, buf.String())
}
