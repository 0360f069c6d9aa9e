package runs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	queueNameInvalidChars = regexp.MustCompile(`[^a-z0-9/_-]`)
	queueNameRepeats      = regexp.MustCompile(`_+`)
)

// DefaultQueueName is the fallback queue for a task with no explicit queue.
func DefaultQueueName(taskID string) string {
	return fmt.Sprintf("task/%s", taskID)
}

// SanitizeQueueName normalizes a queue name: lowercase, any character outside
// [a-z0-9/_-] becomes an underscore, and underscore runs collapse to one.
func SanitizeQueueName(name string) string {
	sanitized := strings.ToLower(name)
	sanitized = queueNameInvalidChars.ReplaceAllString(sanitized, "_")
	return queueNameRepeats.ReplaceAllString(sanitized, "_")
}

// sanitizeQueueNameForTask sanitizes name, substituting the task fallback
// queue when sanitization yields nothing.
func sanitizeQueueNameForTask(name, taskID string) string {
	if sanitized := SanitizeQueueName(name); sanitized != "" {
		return sanitized
	}
	return SanitizeQueueName(DefaultQueueName(taskID))
}

// parseQueueConfig decodes a worker task's queueConfig blob. An empty or
// null blob is not an error.
func parseQueueConfig(raw []byte) (*QueueConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cfg QueueConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse queue config: %w", err)
	}
	return &cfg, nil
}
