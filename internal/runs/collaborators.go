package runs

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Engine is the downstream execution engine. A successful Trigger means the
// run row is durably persisted and enqueued for dispatch; the engine owns the
// run's lifecycle from then on.
type Engine interface {
	Trigger(ctx context.Context, run *TaskRun, tx pgx.Tx) (*TaskRun, error)
}

// EntitlementResult is the entitlement service's verdict for an organization.
type EntitlementResult struct {
	HasAccess bool `json:"hasAccess"`
}

// EntitlementClient asks the billing collaborator whether an organization may
// trigger runs. A nil result with nil error means access is granted.
type EntitlementClient interface {
	Get(ctx context.Context, organizationID pgtype.UUID) (*EntitlementResult, error)
}

// ObjectStore persists offloaded payload bodies.
type ObjectStore interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string, env *RuntimeEnvironment) error
}

// TraceEventContext carries the identifiers of the span a trace envelope
// created.
type TraceEventContext struct {
	TraceID string
	SpanID  string
}

// Traceparent identifies the incoming parent span, when one was propagated.
type Traceparent struct {
	TraceID string
	SpanID  string
}

// TraceEventStyle controls how the event renders.
type TraceEventStyle struct {
	Icon string `json:"icon,omitempty"`
}

// TraceEventAttributes are the attributes recorded on a trigger span.
type TraceEventAttributes struct {
	Properties     map[string]any
	Style          TraceEventStyle
	RunIsTest      bool
	BatchID        *string
	IdempotencyKey *string
	ShowActions    bool
}

// TraceEventOptions configures one trigger trace envelope.
type TraceEventOptions struct {
	Environment      *RuntimeEnvironment
	TaskSlug         string
	Attributes       TraceEventAttributes
	Context          map[string]string
	SpanParentAsLink bool
	ParentAsLinkType ParentAsLinkType
}

// TraceEventFunc runs inside a trace envelope with the span's identifiers.
type TraceEventFunc func(ctx context.Context, traceContext TraceEventContext, traceparent *Traceparent) error

// TraceEventRepository emits one server-kind event per trigger and threads
// its trace identifiers into the body.
type TraceEventRepository interface {
	TraceEvent(ctx context.Context, name string, opts TraceEventOptions, body TraceEventFunc) error
}
