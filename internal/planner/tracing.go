// Tracing instrumentation for the loop.
package planner

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stewardworks/steward/internal/task"
)

// startTaskSpan starts the span covering one whole task run.
func (p *Planner) startTaskSpan(ctx context.Context, t *task.Task) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "task.run")
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.goal", t.Goal),
	)
	return ctx, span
}

// endTaskSpan ends the task span with the terminal status.
func (p *Planner) endTaskSpan(span trace.Span, t *task.Task, err error) {
	span.SetAttributes(
		attribute.String("task.status", t.Status),
		attribute.Int("task.steps", len(t.Steps)),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startStepSpan starts a span for one step of the loop.
func (p *Planner) startStepSpan(ctx context.Context, t *task.Task, index int, a task.Action) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "task.step")
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.Int("step.index", index),
		attribute.String("step.tool", a.Tool),
	)
	return ctx, span
}

// endStepSpan ends a step span with its ruling and outcome.
func (p *Planner) endStepSpan(span trace.Span, sp *task.Step) {
	if sp != nil {
		span.SetAttributes(attribute.String("step.decision", sp.Verdict.Decision))
		if sp.Result != nil {
			span.SetAttributes(
				attribute.Bool("step.success", sp.Result.Success),
				attribute.Int("step.attempts", sp.Result.Meta.Attempts),
			)
		}
		if sp.Confirmation != nil {
			span.SetAttributes(attribute.String("step.confirmation", sp.Confirmation.State))
		}
	}
	span.End()
}
