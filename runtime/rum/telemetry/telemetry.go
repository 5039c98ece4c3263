// Package telemetry integrates the RUM scope tree with Clue logging and
// OpenTelemetry metrics and tracing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the scope tree and the
// context provider. Implementations typically delegate to Clue but the
// interface is intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for session and view
// instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so scope code remains agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
//
// Example usage:
//
//	ctx, span := tracer.Start(ctx, "rum.session.renew")
//	defer span.End()
//	span.AddEvent("view.transferred", "view_id", id)
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Metric names emitted by the scope tree.
const (
	// MetricSessionStarted counts session scopes created, tagged with "sampled".
	MetricSessionStarted = "rum.session.started"
	// MetricSessionExpired counts sessions that stopped accepting commands,
	// tagged with "reason" (timeout, max_duration, stopped).
	MetricSessionExpired = "rum.session.expired"
	// MetricViewStarted counts view scopes created, tagged with "kind"
	// (explicit, application_launch, background, transferred).
	MetricViewStarted = "rum.view.started"
	// MetricCommandDropped counts commands dropped because no view could
	// handle them.
	MetricCommandDropped = "rum.command.dropped"
	// MetricSessionDuration records the lifetime of expired sessions.
	MetricSessionDuration = "rum.session.duration"
)
