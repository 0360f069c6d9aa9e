package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeQueueName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already clean", "task/send-email", "task/send-email"},
		{"uppercase", "Priority-Mail", "priority-mail"},
		{"spaces become underscores", "my queue name", "my_queue_name"},
		{"repeats collapse", "a!!!b", "a_b"},
		{"mixed", "Orders (EU) #2", "orders_eu_2"},
		{"underscores kept", "queue_one", "queue_one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeQueueName(tt.input))
		})
	}
}

func TestSanitizeQueueNameForTask(t *testing.T) {
	assert.Equal(t, "priority-mail", sanitizeQueueNameForTask("priority-mail", "send-email"))

	// Sanitizing to nothing falls back to the task queue.
	assert.Equal(t, "task/send-email", sanitizeQueueNameForTask("", "send-email"))
}

func TestParseQueueConfig(t *testing.T) {
	t.Run("empty blob", func(t *testing.T) {
		cfg, err := parseQueueConfig(nil)
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("json null", func(t *testing.T) {
		cfg, err := parseQueueConfig([]byte("null"))
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("named queue", func(t *testing.T) {
		cfg, err := parseQueueConfig([]byte(`{"name":"priority-mail","concurrencyLimit":3}`))
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "priority-mail", cfg.Name)
		require.NotNil(t, cfg.ConcurrencyLimit)
		assert.Equal(t, 3, *cfg.ConcurrencyLimit)
	})

	t.Run("malformed blob", func(t *testing.T) {
		_, err := parseQueueConfig([]byte(`{"name":`))
		assert.Error(t, err)
	})
}
