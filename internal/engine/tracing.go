package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openkoi/openkoi/internal/task"
)

var tracer = otel.Tracer("github.com/openkoi/openkoi/internal/engine")

func startTaskSpan(ctx context.Context, t *task.Task) (context.Context, trace.Span) {
	return tracer.Start(ctx, "task.run", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.Int("task.max_iterations", t.Limits.MaxIterations),
		attribute.Int("task.token_budget", t.Limits.TokenBudget),
		attribute.Float64("task.quality_threshold", t.Limits.QualityThreshold),
	))
}

func startIterationSpan(ctx context.Context, index int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "task.iteration", trace.WithAttributes(
		attribute.Int("iteration.index", index),
	))
}

func endIterationSpan(span trace.Span, score float64, decision task.Decision) {
	span.SetAttributes(
		attribute.Float64("iteration.score", score),
		attribute.String("iteration.decision", string(decision)),
	)
}
