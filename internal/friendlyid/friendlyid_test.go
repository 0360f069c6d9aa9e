package friendlyid

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate(PrefixRun)
	assert.True(t, strings.HasPrefix(id, "run_"))
	assert.Len(t, id, len("run_")+26)
	assert.Equal(t, strings.ToLower(id), id)
}

func TestRun(t *testing.T) {
	assert.Equal(t, PrefixRun, Prefix(Run()))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "batch", Prefix("batch_01h4pg5qr7kjb9s8vw9x0abcde"))
	assert.Equal(t, "", Prefix("noprefix"))
	assert.Equal(t, "", Prefix("_leading"))
}

func TestGenerator_MonotonicWithinProcess(t *testing.T) {
	g := NewGenerator()

	prev := g.ULID()
	for i := 0; i < 1000; i++ {
		next := g.ULID()
		require.Greater(t, next, prev, "ids should sort in generation order")
		prev = next
	}
}

func TestGenerator_ConcurrentUniqueness(t *testing.T) {
	g := NewGenerator()

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, g.Generate(PrefixAttempt))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
