package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	runIDs []string
	queues []string
	err    error
}

func (d *recordingDispatcher) DispatchRun(ctx context.Context, runID, queueName string) error {
	if d.err != nil {
		return d.err
	}
	d.runIDs = append(d.runIDs, runID)
	d.queues = append(d.queues, queueName)
	return nil
}

func dispatchJob(runID, queueName string) *river.Job[DispatchRunArgs] {
	return &river.Job[DispatchRunArgs]{
		JobRow: &rivertype.JobRow{ID: 1},
		Args: DispatchRunArgs{
			RunID:       runID,
			QueueName:   queueName,
			MasterQueue: "main",
		},
	}
}

func TestDispatchRunWorker_Work(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	worker := &DispatchRunWorker{dispatcher: dispatcher, logger: slog.Default()}

	err := worker.Work(context.Background(), dispatchJob("run_abc", "task/send-email"))
	require.NoError(t, err)
	assert.Equal(t, []string{"run_abc"}, dispatcher.runIDs)
	assert.Equal(t, []string{"task/send-email"}, dispatcher.queues)
}

func TestDispatchRunWorker_WorkDispatcherError(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("no capacity")}
	worker := &DispatchRunWorker{dispatcher: dispatcher, logger: slog.Default()}

	err := worker.Work(context.Background(), dispatchJob("run_abc", "task/send-email"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
}

func TestDispatchRunWorker_WorkWithoutDispatcher(t *testing.T) {
	worker := &DispatchRunWorker{logger: slog.Default()}

	err := worker.Work(context.Background(), dispatchJob("run_abc", "task/send-email"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
