package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"runflow/backend/internal/friendlyid"
)

// DBTX is the subset of pgx both pools and transactions satisfy.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the data access surface of the trigger pipeline. All reads
// happen outside the counter transaction; tag upserts run inside it via
// WithTx.
type Repository interface {
	FindRunByIdempotencyKey(ctx context.Context, environmentID pgtype.UUID, taskIdentifier, idempotencyKey string) (*TaskRun, error)
	FindRunByID(ctx context.Context, id pgtype.UUID) (*TaskRun, error)
	FindAttemptByFriendlyID(ctx context.Context, friendlyID string) (*TaskRunAttempt, error)
	FindBatchByFriendlyID(ctx context.Context, friendlyID string) (*BatchTaskRun, error)
	FindCurrentWorker(ctx context.Context, environmentID pgtype.UUID) (*BackgroundWorker, error)
	FindWorkerTask(ctx context.Context, workerID pgtype.UUID, slug string) (*BackgroundWorkerTask, error)
	FindWorkerByVersion(ctx context.Context, projectID, environmentID pgtype.UUID, version string) (*BackgroundWorker, error)
	UpsertTag(ctx context.Context, name string, projectID pgtype.UUID) (*TaskRunTag, error)

	// WithTx returns a Repository bound to the given transaction.
	WithTx(tx pgx.Tx) Repository
}

type repository struct {
	db DBTX
}

// NewRepository creates a Repository over a pool or transaction.
func NewRepository(db DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx pgx.Tx) Repository {
	return &repository{db: tx}
}

const taskRunColumns = `id, friendly_id, number, environment_id, project_id, organization_id,
	task_identifier, idempotency_key, status, queue_name, master_queue,
	payload, payload_type, metadata, metadata_type, context,
	trace_id, span_id, parent_span_id, concurrency_key, queue_concurrency_limit,
	delay_until, queued_at, ttl, max_attempts, depth,
	parent_task_run_id, root_task_run_id, batch_id, resume_parent_on_completion,
	locked_to_version_id, is_test, seed_metadata, seed_metadata_type,
	created_at, updated_at`

func scanTaskRun(row pgx.Row) (*TaskRun, error) {
	var run TaskRun
	err := row.Scan(
		&run.ID, &run.FriendlyID, &run.Number, &run.EnvironmentID, &run.ProjectID, &run.OrganizationID,
		&run.TaskIdentifier, &run.IdempotencyKey, &run.Status, &run.QueueName, &run.MasterQueue,
		&run.Payload, &run.PayloadType, &run.Metadata, &run.MetadataType, &run.Context,
		&run.TraceID, &run.SpanID, &run.ParentSpanID, &run.ConcurrencyKey, &run.QueueConcurrencyLimit,
		&run.DelayUntil, &run.QueuedAt, &run.TTL, &run.MaxAttempts, &run.Depth,
		&run.ParentTaskRunID, &run.RootTaskRunID, &run.BatchID, &run.ResumeParentOnCompletion,
		&run.LockedToVersionID, &run.IsTest, &run.SeedMetadata, &run.SeedMetadataType,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) FindRunByIdempotencyKey(ctx context.Context, environmentID pgtype.UUID, taskIdentifier, idempotencyKey string) (*TaskRun, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskRunColumns+` FROM task_runs
		 WHERE environment_id = $1 AND task_identifier = $2 AND idempotency_key = $3`,
		environmentID, taskIdentifier, idempotencyKey)

	run, err := scanTaskRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskRunNotFound
		}
		return nil, fmt.Errorf("failed to find run by idempotency key: %w", err)
	}
	return run, nil
}

func (r *repository) FindRunByID(ctx context.Context, id pgtype.UUID) (*TaskRun, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskRunColumns+` FROM task_runs WHERE id = $1`, id)

	run, err := scanTaskRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskRunNotFound
		}
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	return run, nil
}

// FindAttemptByFriendlyID loads an attempt with its task run joined, which
// dependency gating needs in one read.
func (r *repository) FindAttemptByFriendlyID(ctx context.Context, friendlyID string) (*TaskRunAttempt, error) {
	var attempt TaskRunAttempt
	err := r.db.QueryRow(ctx,
		`SELECT a.id, a.friendly_id, a.status, a.task_run_id
		 FROM task_run_attempts a WHERE a.friendly_id = $1`,
		friendlyID).Scan(&attempt.ID, &attempt.FriendlyID, &attempt.Status, &attempt.TaskRunID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attempt %q not found: %w", friendlyID, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to find attempt %q: %w", friendlyID, err)
	}

	run, err := r.FindRunByID(ctx, attempt.TaskRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task run for attempt %q: %w", friendlyID, err)
	}
	attempt.TaskRun = run

	return &attempt, nil
}

// FindBatchByFriendlyID loads a batch with its dependent attempt (and that
// attempt's task run) joined when one exists.
func (r *repository) FindBatchByFriendlyID(ctx context.Context, friendlyID string) (*BatchTaskRun, error) {
	var batch BatchTaskRun
	err := r.db.QueryRow(ctx,
		`SELECT id, friendly_id, dependent_task_attempt_id
		 FROM batch_task_runs WHERE friendly_id = $1`,
		friendlyID).Scan(&batch.ID, &batch.FriendlyID, &batch.DependentTaskAttemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("batch %q not found: %w", friendlyID, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to find batch %q: %w", friendlyID, err)
	}

	if batch.DependentTaskAttemptID != nil {
		var attempt TaskRunAttempt
		err := r.db.QueryRow(ctx,
			`SELECT id, friendly_id, status, task_run_id
			 FROM task_run_attempts WHERE id = $1`,
			*batch.DependentTaskAttemptID).Scan(&attempt.ID, &attempt.FriendlyID, &attempt.Status, &attempt.TaskRunID)
		if err != nil {
			return nil, fmt.Errorf("failed to load dependent attempt for batch %q: %w", friendlyID, err)
		}

		run, err := r.FindRunByID(ctx, attempt.TaskRunID)
		if err != nil {
			return nil, fmt.Errorf("failed to load task run for batch %q: %w", friendlyID, err)
		}
		attempt.TaskRun = run
		batch.DependentTaskAttempt = &attempt
	}

	return &batch, nil
}

// FindCurrentWorker resolves the worker promoted as current for an
// environment. Returns nil without error when no deployment is promoted.
func (r *repository) FindCurrentWorker(ctx context.Context, environmentID pgtype.UUID) (*BackgroundWorker, error) {
	var worker BackgroundWorker
	err := r.db.QueryRow(ctx,
		`SELECT w.id, w.friendly_id, w.version, w.project_id, w.environment_id, w.content_hash
		 FROM worker_deployment_promotions p
		 JOIN worker_deployments d ON d.id = p.deployment_id
		 JOIN background_workers w ON w.id = d.worker_id
		 WHERE p.environment_id = $1`,
		environmentID).Scan(&worker.ID, &worker.FriendlyID, &worker.Version,
		&worker.ProjectID, &worker.EnvironmentID, &worker.ContentHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find current worker: %w", err)
	}
	return &worker, nil
}

// FindWorkerTask looks up a task definition by (worker, slug). Returns nil
// without error when the worker does not export the task.
func (r *repository) FindWorkerTask(ctx context.Context, workerID pgtype.UUID, slug string) (*BackgroundWorkerTask, error) {
	var task BackgroundWorkerTask
	err := r.db.QueryRow(ctx,
		`SELECT id, friendly_id, worker_id, slug, queue_config
		 FROM background_worker_tasks WHERE worker_id = $1 AND slug = $2`,
		workerID, slug).Scan(&task.ID, &task.FriendlyID, &task.WorkerID, &task.Slug, &task.QueueConfig)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find worker task: %w", err)
	}
	return &task, nil
}

// FindWorkerByVersion resolves a lockToVersion option. Returns nil without
// error on a missing match; the lock is best effort.
func (r *repository) FindWorkerByVersion(ctx context.Context, projectID, environmentID pgtype.UUID, version string) (*BackgroundWorker, error) {
	var worker BackgroundWorker
	err := r.db.QueryRow(ctx,
		`SELECT id, friendly_id, version, project_id, environment_id, content_hash
		 FROM background_workers
		 WHERE project_id = $1 AND environment_id = $2 AND version = $3`,
		projectID, environmentID, version).Scan(&worker.ID, &worker.FriendlyID, &worker.Version,
		&worker.ProjectID, &worker.EnvironmentID, &worker.ContentHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find worker by version: %w", err)
	}
	return &worker, nil
}

// UpsertTag gets or creates a project-scoped tag.
func (r *repository) UpsertTag(ctx context.Context, name string, projectID pgtype.UUID) (*TaskRunTag, error) {
	var tag TaskRunTag
	err := r.db.QueryRow(ctx,
		`INSERT INTO task_run_tags (id, friendly_id, name, project_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, friendly_id, name, project_id`,
		newUUID(), friendlyid.Generate(friendlyid.PrefixTag), name, projectID).
		Scan(&tag.ID, &tag.FriendlyID, &tag.Name, &tag.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tag %q: %w", name, err)
	}
	return &tag, nil
}

func newUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, the backstop for racing idempotent triggers.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
