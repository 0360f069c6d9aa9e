// Package runs implements the run trigger pipeline: accepting a request to
// execute a named task, validating it against environment state and quotas,
// deduplicating it, persisting a durable TaskRun and handing it to the
// execution engine.
package runs

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// MaxTagsPerRun caps the number of tags attached to a single run.
const MaxTagsPerRun = 8

// MasterQueue is the outer partition the engine routes runs through.
// TODO: make this configurable once multiple worker pools exist.
const MasterQueue = "main"

// EnvironmentType represents runtime environment types.
type EnvironmentType string

const (
	EnvironmentTypeProduction  EnvironmentType = "PRODUCTION"
	EnvironmentTypeStaging     EnvironmentType = "STAGING"
	EnvironmentTypeDevelopment EnvironmentType = "DEVELOPMENT"
	EnvironmentTypePreview     EnvironmentType = "PREVIEW"
)

// RuntimeEnvironment is the authenticated execution context a trigger request
// runs in. Read-only to this package.
type RuntimeEnvironment struct {
	ID                      pgtype.UUID     `json:"id"`
	Slug                    string          `json:"slug"`
	Type                    EnvironmentType `json:"type"`
	ProjectID               pgtype.UUID     `json:"projectId"`
	OrganizationID          pgtype.UUID     `json:"organizationId"`
	MaximumConcurrencyLimit int             `json:"maximumConcurrencyLimit"`
}

// BackgroundWorker is a registered code bundle for an environment.
type BackgroundWorker struct {
	ID            pgtype.UUID `json:"id"`
	FriendlyID    string      `json:"friendlyId"`
	Version       string      `json:"version"`
	ProjectID     pgtype.UUID `json:"projectId"`
	EnvironmentID pgtype.UUID `json:"environmentId"`
	ContentHash   string      `json:"contentHash"`
}

// BackgroundWorkerTask is a task definition exported by a worker. Unique on
// (WorkerID, Slug). QueueConfig is an optional JSONB blob that may carry a
// queue name override.
type BackgroundWorkerTask struct {
	ID          pgtype.UUID `json:"id"`
	FriendlyID  string      `json:"friendlyId"`
	WorkerID    pgtype.UUID `json:"workerId"`
	Slug        string      `json:"slug"`
	QueueConfig []byte      `json:"queueConfig,omitempty"`
}

// QueueConfig is the parsed shape of BackgroundWorkerTask.QueueConfig.
type QueueConfig struct {
	Name             string `json:"name,omitempty"`
	ConcurrencyLimit *int   `json:"concurrencyLimit,omitempty"`
}

// TaskRun is the durable record of one task invocation. Created exclusively
// by the trigger pipeline, mutated thereafter only by the engine.
type TaskRun struct {
	ID                       pgtype.UUID   `json:"id"`
	FriendlyID               string        `json:"friendlyId"`
	Number                   int32         `json:"number"`
	EnvironmentID            pgtype.UUID   `json:"environmentId"`
	ProjectID                pgtype.UUID   `json:"projectId"`
	OrganizationID           pgtype.UUID   `json:"organizationId"`
	TaskIdentifier           string        `json:"taskIdentifier"`
	IdempotencyKey           *string       `json:"idempotencyKey,omitempty"`
	Status                   TaskRunStatus `json:"status"`
	QueueName                string        `json:"queueName"`
	MasterQueue              string        `json:"masterQueue"`
	Payload                  string        `json:"payload"`
	PayloadType              string        `json:"payloadType"`
	Metadata                 *string       `json:"metadata,omitempty"`
	MetadataType             string        `json:"metadataType"`
	Context                  []byte        `json:"context,omitempty"`
	TraceID                  string        `json:"traceId"`
	SpanID                   string        `json:"spanId"`
	ParentSpanID             *string       `json:"parentSpanId,omitempty"`
	ConcurrencyKey           *string       `json:"concurrencyKey,omitempty"`
	QueueConcurrencyLimit    *int          `json:"queueConcurrencyLimit,omitempty"`
	DelayUntil               *time.Time    `json:"delayUntil,omitempty"`
	QueuedAt                 *time.Time    `json:"queuedAt,omitempty"`
	TTL                      *string       `json:"ttl,omitempty"`
	MaxAttempts              *int          `json:"maxAttempts,omitempty"`
	Tags                     []TaskRunTag  `json:"tags,omitempty"`
	Depth                    int32         `json:"depth"`
	ParentTaskRunID          *pgtype.UUID  `json:"parentTaskRunId,omitempty"`
	RootTaskRunID            *pgtype.UUID  `json:"rootTaskRunId,omitempty"`
	BatchID                  *pgtype.UUID  `json:"batchId,omitempty"`
	ResumeParentOnCompletion bool          `json:"resumeParentOnCompletion"`
	LockedToVersionID        *pgtype.UUID  `json:"lockedToVersionId,omitempty"`
	IsTest                   bool          `json:"isTest"`
	SeedMetadata             *string       `json:"seedMetadata,omitempty"`
	SeedMetadataType         string        `json:"seedMetadataType,omitempty"`
	CreatedAt                time.Time     `json:"createdAt"`
	UpdatedAt                time.Time     `json:"updatedAt"`
}

// TaskRunAttempt models one execution attempt of a run. The pipeline only
// reads its status and its task run join to gate dependencies; the engine
// owns its lifecycle.
type TaskRunAttempt struct {
	ID         pgtype.UUID          `json:"id"`
	FriendlyID string               `json:"friendlyId"`
	Status     TaskRunAttemptStatus `json:"status"`
	TaskRunID  pgtype.UUID          `json:"taskRunId"`
	TaskRun    *TaskRun             `json:"taskRun,omitempty"`
}

// BatchTaskRun is a fan-out batch. DependentTaskAttempt, when present, is the
// attempt whose terminal status gates creation of further children.
type BatchTaskRun struct {
	ID                     pgtype.UUID     `json:"id"`
	FriendlyID             string          `json:"friendlyId"`
	DependentTaskAttemptID *pgtype.UUID    `json:"dependentTaskAttemptId,omitempty"`
	DependentTaskAttempt   *TaskRunAttempt `json:"dependentTaskAttempt,omitempty"`
}

// TaskRunTag is a string label scoped to a project, upserted per tag string.
type TaskRunTag struct {
	ID         pgtype.UUID `json:"id"`
	FriendlyID string      `json:"friendlyId"`
	Name       string      `json:"name"`
	ProjectID  pgtype.UUID `json:"projectId"`
}

// TaskRunNumberCounter is the per-(environment, task) monotonic counter row
// backing run number assignment.
type TaskRunNumberCounter struct {
	ID             pgtype.UUID `json:"id"`
	TaskIdentifier string      `json:"taskIdentifier"`
	EnvironmentID  pgtype.UUID `json:"environmentId"`
	LastNumber     int32       `json:"lastNumber"`
}

// QueueOptions is the caller-provided queue override.
type QueueOptions struct {
	Name             string `json:"name,omitempty"`
	ConcurrencyLimit *int   `json:"concurrencyLimit,omitempty"`
}

// TriggerTaskRequestOptions is the options block of a trigger request body.
type TriggerTaskRequestOptions struct {
	IdempotencyKey   string        `json:"idempotencyKey,omitempty"`
	Delay            any           `json:"delay,omitempty"` // string or time.Time
	TTL              any           `json:"ttl,omitempty"`   // seconds (number) or duration string
	Tags             any           `json:"tags,omitempty"`  // string or []string
	Metadata         any           `json:"metadata,omitempty"`
	MetadataType     string        `json:"metadataType,omitempty"`
	PayloadType      string        `json:"payloadType,omitempty"`
	ConcurrencyKey   string        `json:"concurrencyKey,omitempty"`
	Queue            *QueueOptions `json:"queue,omitempty"`
	LockToVersion    string        `json:"lockToVersion,omitempty"`
	MaxAttempts      int           `json:"maxAttempts,omitempty"`
	Test             *bool         `json:"test,omitempty"`
	DependentAttempt string        `json:"dependentAttempt,omitempty"`
	ParentAttempt    string        `json:"parentAttempt,omitempty"`
	DependentBatch   string        `json:"dependentBatch,omitempty"`
	ParentBatch      string        `json:"parentBatch,omitempty"`
}

// TriggerTaskRequestBody is the request body accepted by the enclosing API.
type TriggerTaskRequestBody struct {
	Payload any                        `json:"payload"`
	Context any                        `json:"context,omitempty"`
	Options *TriggerTaskRequestOptions `json:"options,omitempty"`
}

// ParentAsLinkType controls how the parent span relates to the new run's
// trace. "replay" severs the parent span link.
type ParentAsLinkType string

const (
	ParentAsLinkTypeTrigger ParentAsLinkType = "trigger"
	ParentAsLinkTypeReplay  ParentAsLinkType = "replay"
)

// TriggerTaskOptions are server-side options layered on top of the request
// body by the enclosing API.
type TriggerTaskOptions struct {
	IdempotencyKey   string
	TriggerVersion   string
	TraceContext     map[string]string
	SpanParentAsLink bool
	ParentAsLinkType ParentAsLinkType
	CustomIcon       string
	Test             bool
}
