// Package otel provides OpenTelemetry span helpers shared by the aggregator pipeline.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of pipeline spans
const TracerName = "github.com/stacklok/toolhive-registry-aggregator"

// Attribute keys shared by sync, introspection and merge spans.
const (
	AttrSourceName    = attribute.Key("source.name")
	AttrSourceFormat  = attribute.Key("source.format")
	AttrSyncMode      = attribute.Key("sync.mode")
	AttrRunID         = attribute.Key("run.id")
	AttrServerName    = attribute.Key("server.name")
	AttrServerVersion = attribute.Key("server.version")
	AttrEndpointURL   = attribute.Key("endpoint.url")
	AttrTransport     = attribute.Key("endpoint.transport")
	AttrOutcomeState  = attribute.Key("introspection.state")
	AttrPageSize      = attribute.Key("pagination.limit")
	AttrResultCount   = attribute.Key("result.count")
	AttrHasCursor     = attribute.Key("pagination.has_cursor")
)

// Tracer returns the pipeline tracer from the global provider. Before telemetry
// is initialised the global provider is a no-op, so spans cost nothing.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// The status description stays generic; URLs and tokens only land in the event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
