package runs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// naturalDurationRe matches the compact duration grammar, e.g. "1w2d3h4m5s".
// Every group is optional but order is fixed.
var naturalDurationRe = regexp.MustCompile(`^(\d+w)?(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// Layouts accepted for absolute delay timestamps.
var absoluteDelayLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDelay resolves a delay option into a concrete timestamp. Accepts a
// time.Time, an absolute date string or a natural-language duration string.
// Absolute dates in the past and unparseable strings yield nil (no delay).
func ParseDelay(value any) *time.Time {
	return parseDelayAt(value, time.Now())
}

func parseDelayAt(value any, now time.Time) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		if v == "" {
			return nil
		}
		for _, layout := range absoluteDelayLayouts {
			if parsed, err := time.Parse(layout, v); err == nil {
				if !parsed.After(now) {
					return nil
				}
				return &parsed
			}
		}
		return parseNaturalLanguageDurationAt(v, now)
	default:
		return nil
	}
}

// ParseNaturalLanguageDuration parses a compact duration such as "1h30m" and
// returns that duration added to now, or nil when no component matched.
func ParseNaturalLanguageDuration(s string) *time.Time {
	return parseNaturalLanguageDurationAt(s, time.Now())
}

func parseNaturalLanguageDurationAt(s string, now time.Time) *time.Time {
	matches := naturalDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return nil
	}

	result := now
	matched := false

	for i, unit := range []struct {
		suffix string
		step   time.Duration
	}{
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	} {
		group := matches[i+1]
		if group == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(group, unit.suffix), 10, 64)
		if err != nil || n < 0 {
			continue
		}
		result = result.Add(time.Duration(n) * unit.step)
		matched = true
	}

	if !matched {
		return nil
	}
	return &result
}

// StringifyDuration renders a positive number of seconds in the compact
// duration grammar ("1w2d3h4m5s", omitting zero components). Returns nil for
// zero or negative input.
func StringifyDuration(seconds int64) *string {
	if seconds <= 0 {
		return nil
	}

	units := []struct {
		suffix  string
		seconds int64
	}{
		{"w", 604800},
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}

	var b strings.Builder
	remaining := seconds
	for _, u := range units {
		if n := remaining / u.seconds; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			remaining %= u.seconds
		}
	}

	out := b.String()
	return &out
}
