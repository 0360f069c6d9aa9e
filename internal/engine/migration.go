package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// EnsureQueueTables creates or updates the River tables the engine enqueues
// into. Idempotent; call it once at process start.
func EnsureQueueTables(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create queue migrator: %w", err)
	}

	result, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("failed to migrate queue tables: %w", err)
	}

	if len(result.Versions) > 0 {
		logger.Info("Queue migrations applied", "versions", result.Versions)
	}
	return nil
}
