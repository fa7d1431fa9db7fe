package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/polisai/atomws/pkg/engine"

// StartHop opens a span for one atom execution.
func StartHop(ctx context.Context, atomType, atomID, jobID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "atom."+atomType,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("atom.type", atomType),
			attribute.String("atom.id", atomID),
			attribute.String("job.id", jobID),
		),
	)
}

// EndHop records the routing decision or failure and ends the span.
func EndHop(span trace.Span, advance, note string, err error) {
	if span.IsRecording() {
		span.SetAttributes(attribute.String("atom.advance", advance))
		if note != "" {
			span.AddEvent("job.trail", trace.WithAttributes(attribute.String("note", note)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
