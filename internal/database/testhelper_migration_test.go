package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestHelper_Migrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := SetupTestDB(t)
	defer db.Cleanup(t)

	for _, table := range []string{
		"runtime_environments",
		"background_workers",
		"background_worker_tasks",
		"worker_deployments",
		"worker_deployment_promotions",
		"task_runs",
		"task_run_attempts",
		"batch_task_runs",
		"task_run_tags",
		"task_run_to_tags",
		"task_run_number_counters",
	} {
		var exists bool
		err := db.Pool.QueryRow(context.Background(),
			`SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public'
				AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	var indexExists bool
	err := db.Pool.QueryRow(context.Background(),
		`SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public'
			AND tablename = 'task_runs'
			AND indexname = 'task_runs_idempotency_key_idx'
		)`).Scan(&indexExists)
	require.NoError(t, err)
	assert.True(t, indexExists, "idempotency key unique index should exist")
}
