package runs

// TaskRunStatus is the engine-owned lifecycle of a run. The trigger pipeline
// creates runs as PENDING or DELAYED and otherwise only consults the terminal
// predicate.
type TaskRunStatus string

const (
	TaskRunStatusPending               TaskRunStatus = "PENDING"
	TaskRunStatusDelayed               TaskRunStatus = "DELAYED"
	TaskRunStatusWaitingForDeploy      TaskRunStatus = "WAITING_FOR_DEPLOY"
	TaskRunStatusExecuting             TaskRunStatus = "EXECUTING"
	TaskRunStatusWaitingToResume       TaskRunStatus = "WAITING_TO_RESUME"
	TaskRunStatusRetryingAfterFailure  TaskRunStatus = "RETRYING_AFTER_FAILURE"
	TaskRunStatusPaused                TaskRunStatus = "PAUSED"
	TaskRunStatusCanceled              TaskRunStatus = "CANCELED"
	TaskRunStatusInterrupted           TaskRunStatus = "INTERRUPTED"
	TaskRunStatusCompletedSuccessfully TaskRunStatus = "COMPLETED_SUCCESSFULLY"
	TaskRunStatusCompletedWithErrors   TaskRunStatus = "COMPLETED_WITH_ERRORS"
	TaskRunStatusSystemFailure         TaskRunStatus = "SYSTEM_FAILURE"
	TaskRunStatusCrashed               TaskRunStatus = "CRASHED"
	TaskRunStatusExpired               TaskRunStatus = "EXPIRED"
	TaskRunStatusTimedOut              TaskRunStatus = "TIMED_OUT"
)

var finalRunStatuses = map[TaskRunStatus]bool{
	TaskRunStatusCanceled:              true,
	TaskRunStatusInterrupted:           true,
	TaskRunStatusCompletedSuccessfully: true,
	TaskRunStatusCompletedWithErrors:   true,
	TaskRunStatusSystemFailure:         true,
	TaskRunStatusCrashed:               true,
	TaskRunStatusExpired:               true,
	TaskRunStatusTimedOut:              true,
}

// IsFinalRunStatus reports whether a run is past its last transition.
func IsFinalRunStatus(status TaskRunStatus) bool {
	return finalRunStatuses[status]
}

// TaskRunAttemptStatus is the engine-owned lifecycle of a single attempt.
type TaskRunAttemptStatus string

const (
	TaskRunAttemptStatusPending   TaskRunAttemptStatus = "PENDING"
	TaskRunAttemptStatusExecuting TaskRunAttemptStatus = "EXECUTING"
	TaskRunAttemptStatusPaused    TaskRunAttemptStatus = "PAUSED"
	TaskRunAttemptStatusFailed    TaskRunAttemptStatus = "FAILED"
	TaskRunAttemptStatusCanceled  TaskRunAttemptStatus = "CANCELED"
	TaskRunAttemptStatusCompleted TaskRunAttemptStatus = "COMPLETED"
)

var finalAttemptStatuses = map[TaskRunAttemptStatus]bool{
	TaskRunAttemptStatusFailed:    true,
	TaskRunAttemptStatusCanceled:  true,
	TaskRunAttemptStatusCompleted: true,
}

// IsFinalAttemptStatus reports whether an attempt is past its last transition.
func IsFinalAttemptStatus(status TaskRunAttemptStatus) bool {
	return finalAttemptStatuses[status]
}
