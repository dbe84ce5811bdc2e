// Package tracing provides the orchestrator's stage spans over an
// OpenTelemetry tracer that defaults to a safe no-op when nothing is
// configured, so the pipeline never requires a collector to be present.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vpnagg/aggregator/pkg/orchestrator"

// Tracer returns the global otel tracer for the aggregator. Absent an
// installed TracerProvider, otel's default is a documented no-op, so spans
// below compile and run the same whether or not tracing is wired up.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartStage starts a span named for a pipeline stage and returns the
// derived context and a finish function to defer.
func StartStage(ctx context.Context, stage string) (context.Context, func(err error)) {
	ctx, span := Tracer().Start(ctx, stage)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
