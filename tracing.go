package taskflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/baxromumarov/taskflow"

func startAttemptSpan(ctx context.Context, tracer trace.Tracer, runner string, info TaskInfo) (context.Context, trace.Span) {
	return tracer.Start(ctx, "taskflow.attempt", trace.WithAttributes(
		attribute.String("taskflow.runner", runner),
		attribute.String("taskflow.run_id", info.RunID),
		attribute.String("taskflow.task", fmt.Sprint(info.Key)),
		attribute.Int("taskflow.attempt", info.Attempt),
	))
}

func endAttemptSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
