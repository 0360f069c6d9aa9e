// Command demo wires the full trigger pipeline against a local Postgres and
// fires a few representative triggers: a plain run, an idempotent duplicate,
// a delayed run and a tagged run.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"runflow/backend/internal/database"
	"runflow/backend/internal/engine"
	"runflow/backend/internal/eventrepo"
	"runflow/backend/internal/logger"
	"runflow/backend/internal/objectstore"
	"runflow/backend/internal/runs"
)

// offloadThresholdFromEnv reads TASK_PAYLOAD_OFFLOAD_THRESHOLD (bytes).
// Zero falls back to the service default.
func offloadThresholdFromEnv() int {
	v := os.Getenv("TASK_PAYLOAD_OFFLOAD_THRESHOLD")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	log := logger.New("demo")

	pool, err := database.NewPool(ctx, database.NewDefaultConfig())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	if err := engine.EnsureQueueTables(ctx, pool, log); err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{Pool: pool, Logger: log})
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider()
	defer provider.Shutdown(ctx)

	service := runs.NewService(runs.ServiceOptions{
		Repository:              runs.NewRepository(pool),
		Counter:                 runs.NewAutoIncrementCounter(pool),
		Engine:                  eng,
		ObjectStore:             objectstore.NewMemoryStore(),
		TraceEvents:             eventrepo.New(provider, log),
		Logger:                  log,
		PayloadOffloadThreshold: offloadThresholdFromEnv(),
	})

	env := &runs.RuntimeEnvironment{
		ID:             pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Slug:           "dev",
		Type:           runs.EnvironmentTypeDevelopment,
		ProjectID:      pgtype.UUID{Bytes: uuid.New(), Valid: true},
		OrganizationID: pgtype.UUID{Bytes: uuid.New(), Valid: true},
	}

	// A plain trigger.
	first, err := service.TriggerTask(ctx, "send-email", env,
		&runs.TriggerTaskRequestBody{Payload: map[string]any{"to": "demo@example.com"}}, nil)
	if err != nil {
		return err
	}
	log.Info("Triggered run", "run_id", first.FriendlyID, "number", first.Number, "queue", first.QueueName)

	// The same idempotency key twice returns the same run.
	body := &runs.TriggerTaskRequestBody{
		Payload: map[string]any{"order": 42},
		Options: &runs.TriggerTaskRequestOptions{IdempotencyKey: "order-42"},
	}
	original, err := service.TriggerTask(ctx, "process-order", env, body, nil)
	if err != nil {
		return err
	}
	duplicate, err := service.TriggerTask(ctx, "process-order", env, body, nil)
	if err != nil {
		return err
	}
	log.Info("Idempotent trigger deduplicated",
		"run_id", original.FriendlyID, "deduplicated", original.FriendlyID == duplicate.FriendlyID)

	// A delayed run enters the queue but only becomes workable later.
	delayed, err := service.TriggerTask(ctx, "send-reminder", env,
		&runs.TriggerTaskRequestBody{
			Payload: map[string]any{"to": "demo@example.com"},
			Options: &runs.TriggerTaskRequestOptions{Delay: "1h30m"},
		}, nil)
	if err != nil {
		return err
	}
	log.Info("Triggered delayed run",
		"run_id", delayed.FriendlyID, "status", delayed.Status, "delay_until", delayed.DelayUntil)

	// Tags are upserted per project and attached to the run.
	tagged, err := service.TriggerTask(ctx, "send-email", env,
		&runs.TriggerTaskRequestBody{
			Payload: map[string]any{"to": "vip@example.com"},
			Options: &runs.TriggerTaskRequestOptions{Tags: []any{"vip", "eu"}},
		}, nil)
	if err != nil {
		return err
	}
	log.Info("Triggered tagged run",
		"run_id", tagged.FriendlyID, "number", tagged.Number, "tags", len(tagged.Tags))

	return nil
}
