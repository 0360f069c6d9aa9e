package runs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runflow/backend/internal/database"
)

func TestAutoIncrementCounter_Sequential(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := database.SetupTestDB(t)
	defer db.Cleanup(t)

	counter := NewAutoIncrementCounter(db.Pool)
	ctx := context.Background()

	for want := int32(1); want <= 5; want++ {
		var got int32
		err := counter.IncrementInTransaction(ctx, "seq-key",
			func(ctx context.Context, num int32, tx pgx.Tx) error {
				got = num
				return nil
			}, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAutoIncrementCounter_IndependentKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := database.SetupTestDB(t)
	defer db.Cleanup(t)

	counter := NewAutoIncrementCounter(db.Pool)
	ctx := context.Background()

	collect := func(key string) int32 {
		var got int32
		err := counter.IncrementInTransaction(ctx, key,
			func(ctx context.Context, num int32, tx pgx.Tx) error {
				got = num
				return nil
			}, nil)
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, int32(1), collect("key-a"))
	assert.Equal(t, int32(1), collect("key-b"))
	assert.Equal(t, int32(2), collect("key-a"))
}

func TestAutoIncrementCounter_RollbackReleasesNumber(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := database.SetupTestDB(t)
	defer db.Cleanup(t)

	counter := NewAutoIncrementCounter(db.Pool)
	ctx := context.Background()
	boom := errors.New("work failed")

	err := counter.IncrementInTransaction(ctx, "rb-key",
		func(ctx context.Context, num int32, tx pgx.Tx) error {
			return boom
		}, nil)
	require.ErrorIs(t, err, boom)

	// The failed bump rolled back, so the next committed number is still 1.
	var got int32
	err = counter.IncrementInTransaction(ctx, "rb-key",
		func(ctx context.Context, num int32, tx pgx.Tx) error {
			got = num
			return nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got)
}

func TestAutoIncrementCounter_DeriveInitialSeedsFirstValue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := database.SetupTestDB(t)
	defer db.Cleanup(t)

	counter := NewAutoIncrementCounter(db.Pool)
	ctx := context.Background()

	var got int32
	err := counter.IncrementInTransaction(ctx, "seeded-key",
		func(ctx context.Context, num int32, tx pgx.Tx) error {
			got = num
			return nil
		},
		func(ctx context.Context, tx pgx.Tx) (int32, error) {
			return 41, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	// Later increments ignore the seed function.
	err = counter.IncrementInTransaction(ctx, "seeded-key",
		func(ctx context.Context, num int32, tx pgx.Tx) error {
			got = num
			return nil
		},
		func(ctx context.Context, tx pgx.Tx) (int32, error) {
			return 1000, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int32(43), got)
}

func TestAutoIncrementCounter_ConcurrentContiguous(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := database.SetupTestDB(t)
	defer db.Cleanup(t)

	counter := NewAutoIncrementCounter(db.Pool)
	ctx := context.Background()

	const workers = 10
	const perWorker = 5

	var mu sync.Mutex
	var numbers []int32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := counter.IncrementInTransaction(ctx, "conc-key",
					func(ctx context.Context, num int32, tx pgx.Tx) error {
						mu.Lock()
						numbers = append(numbers, num)
						mu.Unlock()
						return nil
					}, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Every number from 1..N exactly once, no gaps, no duplicates.
	require.Len(t, numbers, workers*perWorker)
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, num := range numbers {
		assert.Equal(t, int32(i+1), num)
	}
}
