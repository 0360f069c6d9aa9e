package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runflow/backend/internal/database"
	"runflow/backend/internal/friendlyid"
	"runflow/backend/internal/runs"
)

func TestDispatchRunArgs_Kind(t *testing.T) {
	assert.Equal(t, "dispatchRun", DispatchRunArgs{}.Kind())
}

type engineFixture struct {
	db     *database.TestDB
	engine *Engine
	ctx    context.Context
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := database.SetupTestDB(t)
	t.Cleanup(func() { db.Cleanup(t) })

	ctx := context.Background()
	require.NoError(t, EnsureQueueTables(ctx, db.Pool, nil))

	eng, err := New(Options{Pool: db.Pool})
	require.NoError(t, err)

	return &engineFixture{db: db, engine: eng, ctx: ctx}
}

func (f *engineFixture) newRun() *runs.TaskRun {
	now := time.Now()
	return &runs.TaskRun{
		FriendlyID:       friendlyid.Run(),
		Number:           1,
		EnvironmentID:    pgtype.UUID{Bytes: [16]byte{1}, Valid: true},
		ProjectID:        pgtype.UUID{Bytes: [16]byte{2}, Valid: true},
		OrganizationID:   pgtype.UUID{Bytes: [16]byte{3}, Valid: true},
		TaskIdentifier:   "send-email",
		Status:           runs.TaskRunStatusPending,
		QueueName:        "task/send-email",
		MasterQueue:      runs.MasterQueue,
		Payload:          `{"to":"a@b"}`,
		PayloadType:      runs.PacketTypeJSON,
		MetadataType:     runs.PacketTypeJSON,
		SeedMetadataType: runs.PacketTypeJSON,
		TraceID:          "0af7651916cd43dd8448eb211c80319c",
		SpanID:           "b7ad6b7169203331",
		QueuedAt:         &now,
	}
}

func TestEngine_TriggerRequiresTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	f := newEngineFixture(t)

	_, err := f.engine.Trigger(f.ctx, f.newRun(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a transaction")
}

func TestEngine_TriggerPersistsAndEnqueues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	f := newEngineFixture(t)

	run := f.newRun()
	tx, err := f.db.Pool.Begin(f.ctx)
	require.NoError(t, err)
	defer tx.Rollback(f.ctx)

	created, err := f.engine.Trigger(f.ctx, run, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(f.ctx))

	assert.True(t, created.ID.Valid)
	assert.False(t, created.CreatedAt.IsZero())

	var status string
	err = f.db.Pool.QueryRow(f.ctx,
		`SELECT status FROM task_runs WHERE friendly_id = $1`, run.FriendlyID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", status)

	var kind, queue string
	var maxAttempts int
	err = f.db.Pool.QueryRow(f.ctx,
		`SELECT kind, queue, max_attempts FROM river_job
		 WHERE args->>'runId' = $1`, run.FriendlyID).Scan(&kind, &queue, &maxAttempts)
	require.NoError(t, err)
	assert.Equal(t, "dispatchRun", kind)
	assert.Equal(t, runs.MasterQueue, queue)
	assert.Equal(t, MaxDispatchAttempts, maxAttempts)
}

func TestEngine_TriggerRollbackDiscardsBoth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	f := newEngineFixture(t)

	run := f.newRun()
	tx, err := f.db.Pool.Begin(f.ctx)
	require.NoError(t, err)

	_, err = f.engine.Trigger(f.ctx, run, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(f.ctx))

	// Neither the run row nor the queue job survives the rollback.
	var count int
	err = f.db.Pool.QueryRow(f.ctx,
		`SELECT COUNT(*) FROM task_runs WHERE friendly_id = $1`, run.FriendlyID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = f.db.Pool.QueryRow(f.ctx,
		`SELECT COUNT(*) FROM river_job WHERE args->>'runId' = $1`, run.FriendlyID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_TriggerDelayedRunSchedulesJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	f := newEngineFixture(t)

	run := f.newRun()
	run.Status = runs.TaskRunStatusDelayed
	run.QueuedAt = nil
	delayUntil := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Millisecond)
	run.DelayUntil = &delayUntil

	tx, err := f.db.Pool.Begin(f.ctx)
	require.NoError(t, err)
	defer tx.Rollback(f.ctx)

	_, err = f.engine.Trigger(f.ctx, run, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(f.ctx))

	var scheduledAt time.Time
	err = f.db.Pool.QueryRow(f.ctx,
		`SELECT scheduled_at FROM river_job WHERE args->>'runId' = $1`, run.FriendlyID).Scan(&scheduledAt)
	require.NoError(t, err)
	assert.WithinDuration(t, delayUntil, scheduledAt, time.Second)
}

func TestEngine_TriggerAttachesTags(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	f := newEngineFixture(t)

	tagID := pgtype.UUID{Bytes: [16]byte{9}, Valid: true}
	_, err := f.db.Pool.Exec(f.ctx,
		`INSERT INTO task_run_tags (id, friendly_id, name, project_id)
		 VALUES ($1, $2, 'eu', $3)`,
		tagID, friendlyid.Generate(friendlyid.PrefixTag), pgtype.UUID{Bytes: [16]byte{2}, Valid: true})
	require.NoError(t, err)

	run := f.newRun()
	run.Tags = []runs.TaskRunTag{{ID: tagID, Name: "eu"}}

	tx, err := f.db.Pool.Begin(f.ctx)
	require.NoError(t, err)
	defer tx.Rollback(f.ctx)

	created, err := f.engine.Trigger(f.ctx, run, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(f.ctx))

	var count int
	err = f.db.Pool.QueryRow(f.ctx,
		`SELECT COUNT(*) FROM task_run_to_tags WHERE task_run_id = $1 AND tag_id = $2`,
		created.ID, tagID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
