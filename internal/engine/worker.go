package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"runflow/backend/internal/runs"
)

// RunDispatcher routes a queued run to a worker pool. The trigger pipeline
// stops at enqueueing; dispatch and attempt management live behind this
// interface.
type RunDispatcher interface {
	DispatchRun(ctx context.Context, runID, queueName string) error
}

// DispatchRunWorker consumes DispatchRunArgs jobs off the master queue.
type DispatchRunWorker struct {
	river.WorkerDefaults[DispatchRunArgs]
	dispatcher RunDispatcher
	logger     *slog.Logger
}

// Work hands the run to the dispatcher.
func (w *DispatchRunWorker) Work(ctx context.Context, job *river.Job[DispatchRunArgs]) error {
	w.logger.Info("Dispatching run",
		"job_id", job.ID, "run_id", job.Args.RunID, "queue", job.Args.QueueName)

	if w.dispatcher == nil {
		return fmt.Errorf("run dispatcher not configured")
	}

	if err := w.dispatcher.DispatchRun(ctx, job.Args.RunID, job.Args.QueueName); err != nil {
		w.logger.Error("Failed to dispatch run",
			"job_id", job.ID, "run_id", job.Args.RunID, "error", err)
		return fmt.Errorf("failed to dispatch run %s: %w", job.Args.RunID, err)
	}
	return nil
}

// NewWorkingClient creates a River client that both inserts and works jobs on
// the master queue. Used by processes that host the dispatcher.
func NewWorkingClient(pool *pgxpool.Pool, dispatcher RunDispatcher, maxWorkers int, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &DispatchRunWorker{dispatcher: dispatcher, logger: logger}); err != nil {
		return nil, fmt.Errorf("failed to register dispatch worker: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			runs.MasterQueue: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create working queue client: %w", err)
	}
	return client, nil
}
