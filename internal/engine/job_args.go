package engine

// DispatchRunArgs is the River job carrying a freshly triggered run to the
// worker pool. The master queue is the River queue name; QueueName is the
// task-level queue the dispatcher applies concurrency limits on.
type DispatchRunArgs struct {
	RunID       string `json:"runId"`
	QueueName   string `json:"queueName"`
	MasterQueue string `json:"masterQueue"`
}

// Kind implements river.JobArgs.
func (DispatchRunArgs) Kind() string { return "dispatchRun" }

// MaxDispatchAttempts bounds redelivery of the dispatch job itself. Attempt
// retry policy for run execution lives with the dispatcher, not here.
const MaxDispatchAttempts = 13
