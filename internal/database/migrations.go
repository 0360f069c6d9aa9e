package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the application schema. Idempotent; call it once at process
// start. River's queue tables are managed separately by the engine package.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migration := `
		CREATE TABLE IF NOT EXISTS runtime_environments (
		    id UUID PRIMARY KEY,
		    slug TEXT NOT NULL,
		    type TEXT NOT NULL,
		    project_id UUID NOT NULL,
		    organization_id UUID NOT NULL,
		    maximum_concurrency_limit INT NOT NULL DEFAULT 10
		);

		CREATE TABLE IF NOT EXISTS background_workers (
		    id UUID PRIMARY KEY,
		    friendly_id TEXT NOT NULL UNIQUE,
		    version TEXT NOT NULL,
		    project_id UUID NOT NULL,
		    environment_id UUID NOT NULL,
		    content_hash TEXT NOT NULL DEFAULT '',
		    UNIQUE (project_id, environment_id, version)
		);

		CREATE TABLE IF NOT EXISTS background_worker_tasks (
		    id UUID PRIMARY KEY,
		    friendly_id TEXT NOT NULL UNIQUE,
		    worker_id UUID NOT NULL REFERENCES background_workers(id),
		    slug TEXT NOT NULL,
		    queue_config JSONB,
		    UNIQUE (worker_id, slug)
		);

		CREATE TABLE IF NOT EXISTS worker_deployments (
		    id UUID PRIMARY KEY,
		    environment_id UUID NOT NULL,
		    worker_id UUID NOT NULL REFERENCES background_workers(id),
		    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS worker_deployment_promotions (
		    environment_id UUID PRIMARY KEY,
		    deployment_id UUID NOT NULL REFERENCES worker_deployments(id)
		);

		CREATE TABLE IF NOT EXISTS task_runs (
		    id UUID PRIMARY KEY,
		    friendly_id TEXT NOT NULL UNIQUE,
		    number INT NOT NULL,
		    environment_id UUID NOT NULL,
		    project_id UUID NOT NULL,
		    organization_id UUID NOT NULL,
		    task_identifier TEXT NOT NULL,
		    idempotency_key TEXT,
		    status TEXT NOT NULL,
		    queue_name TEXT NOT NULL,
		    master_queue TEXT NOT NULL DEFAULT 'main',
		    payload TEXT NOT NULL DEFAULT '',
		    payload_type TEXT NOT NULL DEFAULT 'application/json',
		    metadata TEXT,
		    metadata_type TEXT NOT NULL DEFAULT 'application/json',
		    context JSONB,
		    trace_id TEXT NOT NULL DEFAULT '',
		    span_id TEXT NOT NULL DEFAULT '',
		    parent_span_id TEXT,
		    concurrency_key TEXT,
		    queue_concurrency_limit INT,
		    delay_until TIMESTAMPTZ,
		    queued_at TIMESTAMPTZ,
		    ttl TEXT,
		    max_attempts INT,
		    depth INT NOT NULL DEFAULT 0,
		    parent_task_run_id UUID,
		    root_task_run_id UUID,
		    batch_id UUID,
		    resume_parent_on_completion BOOLEAN NOT NULL DEFAULT FALSE,
		    locked_to_version_id UUID,
		    is_test BOOLEAN NOT NULL DEFAULT FALSE,
		    seed_metadata TEXT,
		    seed_metadata_type TEXT NOT NULL DEFAULT 'application/json',
		    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		-- The backstop for racing idempotent triggers.
		CREATE UNIQUE INDEX IF NOT EXISTS task_runs_idempotency_key_idx
		    ON task_runs (environment_id, task_identifier, idempotency_key)
		    WHERE idempotency_key IS NOT NULL;

		CREATE TABLE IF NOT EXISTS task_run_attempts (
		    id UUID PRIMARY KEY,
		    friendly_id TEXT NOT NULL UNIQUE,
		    status TEXT NOT NULL,
		    task_run_id UUID NOT NULL REFERENCES task_runs(id)
		);

		CREATE TABLE IF NOT EXISTS batch_task_runs (
		    id UUID PRIMARY KEY,
		    friendly_id TEXT NOT NULL UNIQUE,
		    dependent_task_attempt_id UUID REFERENCES task_run_attempts(id)
		);

		CREATE TABLE IF NOT EXISTS task_run_tags (
		    id UUID PRIMARY KEY,
		    friendly_id TEXT NOT NULL UNIQUE,
		    name TEXT NOT NULL,
		    project_id UUID NOT NULL,
		    UNIQUE (project_id, name)
		);

		CREATE TABLE IF NOT EXISTS task_run_to_tags (
		    task_run_id UUID NOT NULL REFERENCES task_runs(id),
		    tag_id UUID NOT NULL REFERENCES task_run_tags(id),
		    PRIMARY KEY (task_run_id, tag_id)
		);

		CREATE TABLE IF NOT EXISTS task_run_number_counters (
		    id UUID PRIMARY KEY,
		    counter_key TEXT NOT NULL UNIQUE,
		    last_number INT NOT NULL DEFAULT 0
		);
	`
	_, err := pool.Exec(ctx, migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
