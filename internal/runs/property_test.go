package runs

import (
	"regexp"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var queueNameAlphabet = regexp.MustCompile(`^[a-z0-9/_-]+$`)

func TestDurationRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("stringify then parse reproduces the seconds", prop.ForAll(
		func(seconds int64) bool {
			now := time.Unix(1748800000, 0).UTC()
			s := StringifyDuration(seconds)
			if s == nil {
				return false
			}
			at := parseNaturalLanguageDurationAt(*s, now)
			if at == nil {
				return false
			}
			return at.Sub(now) == time.Duration(seconds)*time.Second
		},
		gen.Int64Range(1, 4*604800),
	))

	properties.Property("non-positive seconds never stringify", prop.ForAll(
		func(seconds int64) bool {
			return StringifyDuration(seconds) == nil
		},
		gen.Int64Range(-604800, 0),
	))

	properties.TestingRun(t)
}

func TestSanitizeQueueNameProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("sanitized names stay inside the queue alphabet", prop.ForAll(
		func(name string) bool {
			sanitized := SanitizeQueueName(name)
			return sanitized == "" || queueNameAlphabet.MatchString(sanitized)
		},
		gen.AnyString(),
	))

	properties.Property("sanitizing is idempotent", prop.ForAll(
		func(name string) bool {
			once := SanitizeQueueName(name)
			return SanitizeQueueName(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("task fallback is never empty", prop.ForAll(
		func(name string) bool {
			return sanitizeQueueNameForTask(name, "send-email") != ""
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
