// Package engine is the execution side of the run pipeline: it persists
// TaskRun rows handed over by the trigger service and enqueues them for
// dispatch on River, inside the caller's transaction so the run row, its
// number and its queue job commit or roll back together.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"runflow/backend/internal/runs"
)

// Options configures the engine.
type Options struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// Engine implements runs.Engine over Postgres and River.
type Engine struct {
	pool   *pgxpool.Pool
	queue  *river.Client[pgx.Tx]
	logger *slog.Logger
}

// New creates an Engine with an insert-only River client on the given pool.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	queue, err := river.NewClient(riverpgxv5.New(opts.Pool), &river.Config{
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}

	return &Engine{
		pool:   opts.Pool,
		queue:  queue,
		logger: opts.Logger,
	}, nil
}

// Trigger persists the assembled run and enqueues its dispatch job in the
// same transaction. A successful return means the run is durably enqueued.
func (e *Engine) Trigger(ctx context.Context, run *runs.TaskRun, tx pgx.Tx) (*runs.TaskRun, error) {
	if tx == nil {
		return nil, fmt.Errorf("engine trigger requires a transaction")
	}

	created, err := e.insertRun(ctx, run, tx)
	if err != nil {
		return nil, err
	}

	if err := e.enqueueDispatch(ctx, created, tx); err != nil {
		return nil, fmt.Errorf("failed to enqueue run %s: %w", created.FriendlyID, err)
	}

	e.logger.Debug("Run persisted and enqueued",
		"run_id", created.FriendlyID, "queue", created.QueueName, "master_queue", created.MasterQueue)

	return created, nil
}

func (e *Engine) insertRun(ctx context.Context, run *runs.TaskRun, tx pgx.Tx) (*runs.TaskRun, error) {
	created := *run
	created.ID = pgtype.UUID{Bytes: uuid.New(), Valid: true}

	err := tx.QueryRow(ctx,
		`INSERT INTO task_runs (
			id, friendly_id, number, environment_id, project_id, organization_id,
			task_identifier, idempotency_key, status, queue_name, master_queue,
			payload, payload_type, metadata, metadata_type, context,
			trace_id, span_id, parent_span_id, concurrency_key, queue_concurrency_limit,
			delay_until, queued_at, ttl, max_attempts, depth,
			parent_task_run_id, root_task_run_id, batch_id, resume_parent_on_completion,
			locked_to_version_id, is_test, seed_metadata, seed_metadata_type
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34
		) RETURNING created_at, updated_at`,
		created.ID, created.FriendlyID, created.Number, created.EnvironmentID, created.ProjectID, created.OrganizationID,
		created.TaskIdentifier, created.IdempotencyKey, created.Status, created.QueueName, created.MasterQueue,
		created.Payload, created.PayloadType, created.Metadata, created.MetadataType, created.Context,
		created.TraceID, created.SpanID, created.ParentSpanID, created.ConcurrencyKey, created.QueueConcurrencyLimit,
		created.DelayUntil, created.QueuedAt, created.TTL, created.MaxAttempts, created.Depth,
		created.ParentTaskRunID, created.RootTaskRunID, created.BatchID, created.ResumeParentOnCompletion,
		created.LockedToVersionID, created.IsTest, created.SeedMetadata, created.SeedMetadataType,
	).Scan(&created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task run: %w", err)
	}

	for _, tag := range created.Tags {
		_, err := tx.Exec(ctx,
			`INSERT INTO task_run_to_tags (task_run_id, tag_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			created.ID, tag.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to attach tag %q: %w", tag.Name, err)
		}
	}

	return &created, nil
}

func (e *Engine) enqueueDispatch(ctx context.Context, run *runs.TaskRun, tx pgx.Tx) error {
	insertOpts := &river.InsertOpts{
		Queue:       run.MasterQueue,
		MaxAttempts: MaxDispatchAttempts,
	}
	// Delayed runs enter the queue but only become workable at their delay
	// timestamp.
	if run.DelayUntil != nil {
		insertOpts.ScheduledAt = *run.DelayUntil
	}

	_, err := e.queue.InsertTx(ctx, tx, DispatchRunArgs{
		RunID:       run.FriendlyID,
		QueueName:   run.QueueName,
		MasterQueue: run.MasterQueue,
	}, insertOpts)
	return err
}
