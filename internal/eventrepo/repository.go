// Package eventrepo records trigger events as OpenTelemetry spans and feeds
// their trace identifiers back into the pipeline, so a run row carries the
// span that represents it.
package eventrepo

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"runflow/backend/internal/runs"
)

const tracerName = "runflow.trigger"

// Repository implements runs.TraceEventRepository on an otel tracer.
type Repository struct {
	tracer trace.Tracer
	logger *slog.Logger
}

// New creates a Repository using the given tracer provider.
func New(provider trace.TracerProvider, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		tracer: provider.Tracer(tracerName),
		logger: logger,
	}
}

// TraceEvent opens one server-kind span for a trigger, invokes body with the
// span's identifiers and the propagated parent (if any), and records failure
// on the span. The body's error is returned unchanged.
func (r *Repository) TraceEvent(ctx context.Context, name string, opts runs.TraceEventOptions, body runs.TraceEventFunc) error {
	traceparent := parseTraceparent(opts.Context)

	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(spanAttributes(opts)...),
	}

	if traceparent != nil {
		parentSC := traceparent.spanContext()
		if opts.SpanParentAsLink {
			startOpts = append(startOpts, trace.WithLinks(trace.Link{SpanContext: parentSC}))
		} else {
			ctx = trace.ContextWithRemoteSpanContext(ctx, parentSC)
		}
	}

	ctx, span := r.tracer.Start(ctx, name, startOpts...)
	defer span.End()

	traceContext := runs.TraceEventContext{
		TraceID: span.SpanContext().TraceID().String(),
		SpanID:  span.SpanContext().SpanID().String(),
	}

	var parent *runs.Traceparent
	if traceparent != nil {
		parent = &runs.Traceparent{TraceID: traceparent.traceID.String(), SpanID: traceparent.spanID.String()}
	}

	if err := body(ctx, traceContext, parent); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func spanAttributes(opts runs.TraceEventOptions) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("task.slug", opts.TaskSlug),
		attribute.Bool("run.is_test", opts.Attributes.RunIsTest),
		attribute.Bool("show_actions", opts.Attributes.ShowActions),
	}
	if opts.Attributes.Style.Icon != "" {
		attrs = append(attrs, attribute.String("style.icon", opts.Attributes.Style.Icon))
	}
	if opts.Attributes.BatchID != nil {
		attrs = append(attrs, attribute.String("batch.id", *opts.Attributes.BatchID))
	}
	if opts.Attributes.IdempotencyKey != nil {
		attrs = append(attrs, attribute.String("idempotency_key", *opts.Attributes.IdempotencyKey))
	}
	if opts.Environment != nil {
		attrs = append(attrs, attribute.String("environment.type", string(opts.Environment.Type)))
	}
	for k, v := range opts.Attributes.Properties {
		if s, ok := v.(string); ok {
			attrs = append(attrs, attribute.String(k, s))
		}
	}
	return attrs
}

type parsedTraceparent struct {
	traceID trace.TraceID
	spanID  trace.SpanID
}

func (p *parsedTraceparent) spanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    p.traceID,
		SpanID:     p.spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

// parseTraceparent decodes a W3C traceparent header
// ("00-<trace-id>-<span-id>-<flags>") from an incoming trace context.
func parseTraceparent(carrier map[string]string) *parsedTraceparent {
	if carrier == nil {
		return nil
	}
	header, ok := carrier["traceparent"]
	if !ok {
		return nil
	}

	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return nil
	}

	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return nil
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return nil
	}

	return &parsedTraceparent{traceID: traceID, spanID: spanID}
}
