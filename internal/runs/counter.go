package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunCounterKey builds the counter key for a (environment, task) pair.
func RunCounterKey(environmentID, taskIdentifier string) string {
	return fmt.Sprintf("v3-run:%s:%s", environmentID, taskIdentifier)
}

// CounterWorkFunc runs inside the counter transaction with the freshly
// assigned number. The counter bump and the work commit atomically.
type CounterWorkFunc func(ctx context.Context, num int32, tx pgx.Tx) error

// DeriveInitialFunc returns the counter's seed value when the row is first
// created, evaluated inside the same transaction.
type DeriveInitialFunc func(ctx context.Context, tx pgx.Tx) (int32, error)

// AutoIncrementCounter assigns strictly increasing numbers per key. Callers
// sharing a key serialize on the counter row's lock; different keys proceed
// independently. Rolling back the transaction also rolls back the bump, so
// committed numbers stay contiguous.
type AutoIncrementCounter struct {
	pool *pgxpool.Pool
}

// NewAutoIncrementCounter creates a counter over the given pool.
func NewAutoIncrementCounter(pool *pgxpool.Pool) *AutoIncrementCounter {
	return &AutoIncrementCounter{pool: pool}
}

// IncrementInTransaction opens a transaction, bumps the counter for key and
// invokes work with the new value. deriveInitial seeds the counter the first
// time the key is seen; a nil deriveInitial seeds at zero.
func (c *AutoIncrementCounter) IncrementInTransaction(ctx context.Context, key string, work CounterWorkFunc, deriveInitial DeriveInitialFunc) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin counter transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	num, err := c.increment(ctx, tx, key, deriveInitial)
	if err != nil {
		return err
	}

	if err := work(ctx, num, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit counter transaction: %w", err)
	}
	return nil
}

func (c *AutoIncrementCounter) increment(ctx context.Context, tx pgx.Tx, key string, deriveInitial DeriveInitialFunc) (int32, error) {
	// Lock the counter row so concurrent callers with the same key observe
	// consecutive values in commit order.
	var last int32
	err := tx.QueryRow(ctx,
		`SELECT last_number FROM task_run_number_counters WHERE counter_key = $1 FOR UPDATE`,
		key).Scan(&last)

	switch {
	case err == nil:
		var num int32
		err := tx.QueryRow(ctx,
			`UPDATE task_run_number_counters SET last_number = last_number + 1
			 WHERE counter_key = $1 RETURNING last_number`,
			key).Scan(&num)
		if err != nil {
			return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
		}
		return num, nil

	case errors.Is(err, pgx.ErrNoRows):
		var seed int32
		if deriveInitial != nil {
			seed, err = deriveInitial(ctx, tx)
			if err != nil {
				return 0, fmt.Errorf("failed to derive initial counter value for %q: %w", key, err)
			}
		}

		// A concurrent transaction may seed the row between our SELECT and
		// this INSERT; ON CONFLICT falls back to a plain bump in that case.
		var num int32
		err := tx.QueryRow(ctx,
			`INSERT INTO task_run_number_counters (id, counter_key, last_number)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (counter_key) DO UPDATE
			   SET last_number = task_run_number_counters.last_number + 1
			 RETURNING last_number`,
			newUUID(), key, seed+1).Scan(&num)
		if err != nil {
			return 0, fmt.Errorf("failed to seed counter %q: %w", key, err)
		}
		return num, nil

	default:
		return 0, fmt.Errorf("failed to read counter %q: %w", key, err)
	}
}
