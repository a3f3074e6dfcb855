// Package tracing provides distributed tracing support using OpenTelemetry.
// Spans cover the phases of a correlation job and individual tracker calls;
// trace IDs are propagated to the tracker via HTTP headers.
package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

// Global tracer
var globalTracer trace.Tracer

// Init initializes OpenTelemetry with the given configuration.
// Returns a shutdown function that should be called on application exit.
func Init(cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		// Return no-op shutdown
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	globalTracer = tp.Tracer(cfg.ServiceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the global tracer.
func GetTracer() trace.Tracer {
	if globalTracer == nil {
		return otel.Tracer("noop")
	}
	return globalTracer
}

// JobSpan starts a new span for a correlation job phase
// (discover, fetch, score).
func JobSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "correlator.job."+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("correlator.job.phase", phase),
		),
	)
}

// APISpan starts a new span for a tracker API call.
func APISpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "correlator.tracker."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tracker.operation", operation),
			attribute.String("tracker.issue_key", key),
		),
	)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}

// HTTP headers for trace propagation
const (
	TraceIDHeader   = "X-Trace-ID"
	SpanIDHeader    = "X-Span-ID"
	RequestIDHeader = "X-Request-ID"
)

// HeadersFromContext returns trace propagation headers for the current span,
// empty when there is no active span.
func HeadersFromContext(ctx context.Context) map[string]string {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.SpanContext().IsValid() {
		return nil
	}

	sc := span.SpanContext()
	return map[string]string{
		TraceIDHeader:   sc.TraceID().String(),
		SpanIDHeader:    sc.SpanID().String(),
		RequestIDHeader: sc.TraceID().String(),
	}
}
