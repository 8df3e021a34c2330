package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the logflume tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("logflume")

// StartDeliverySpan starts a span covering one delivery cycle for a
// destination, retries included.
//
// The span uses the global OTel tracer provider. Configure the provider
// before the pipeline starts:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func StartDeliverySpan(ctx context.Context, destination string, events int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "logflume.delivery",
		trace.WithAttributes(
			attribute.String("destination", destination),
			attribute.Int("batch.size", events),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartEnrichSpan starts a span for an enrichment lookup.
func StartEnrichSpan(ctx context.Context, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "logflume.enrich",
		trace.WithAttributes(
			attribute.String("cache.key", key),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
