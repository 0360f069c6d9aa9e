// Package friendlyid generates the human-readable prefixed identifiers used
// across the platform (run_..., worker_..., attempt_..., batch_...). The
// random part is a lowercase ULID so identifiers of the same kind sort by
// creation time.
package friendlyid

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Known identifier prefixes.
const (
	PrefixRun     = "run"
	PrefixAttempt = "attempt"
	PrefixBatch   = "batch"
	PrefixWorker  = "worker"
	PrefixTask    = "task"
	PrefixTag     = "runtag"
)

// Generator produces lowercase ULIDs with monotonic ordering. Safe for
// concurrent use.
type Generator struct {
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// NewGenerator creates a Generator with a monotonic entropy source, so ids
// generated within the same millisecond still sort in generation order.
func NewGenerator() *Generator {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return &Generator{entropy: entropy}
}

// ULID returns a 26-character lowercase ULID.
func (g *Generator) ULID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return strings.ToLower(id.String())
}

// Generate returns a prefixed friendly id such as "run_01h4pg5qr7kjb9s8vw9x".
func (g *Generator) Generate(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.ULID())
}

var defaultGenerator = NewGenerator()

// Generate returns a prefixed friendly id using the package-level generator.
func Generate(prefix string) string {
	return defaultGenerator.Generate(prefix)
}

// Run returns a fresh run friendly id.
func Run() string { return Generate(PrefixRun) }

// Prefix reports the prefix of a friendly id, or "" if the id carries none.
func Prefix(id string) string {
	if i := strings.IndexByte(id, '_'); i > 0 {
		return id[:i]
	}
	return ""
}
