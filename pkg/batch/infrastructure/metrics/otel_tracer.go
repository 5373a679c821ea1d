package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// TracerName is the instrumentation scope of batch spans.
const TracerName = "github.com/tigerroll/chunkflow/pkg/batch"

// OpenTelemetryTracer is a metrics.Tracer that opens OpenTelemetry spans for jobs, steps and
// chunks. Partition steps run as children of the step span of their manager.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(TracerName)}
}

func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName,
		trace.WithAttributes(
			attribute.String("batch.job.name", execution.JobName),
			attribute.String("batch.job.execution_id", execution.ID),
			attribute.String("batch.job.instance_id", execution.JobInstanceID),
		))
	return ctx, func() {
		endWithStatus(span, execution.Status, execution.ExitStatus)
	}
}

func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName,
		trace.WithAttributes(
			attribute.String("batch.step.name", execution.StepName),
			attribute.String("batch.step.execution_id", execution.ID),
			attribute.String("batch.job.execution_id", execution.JobExecutionID),
		))
	return ctx, func() {
		span.SetAttributes(
			attribute.Int64("batch.step.read_count", execution.ReadCount),
			attribute.Int64("batch.step.write_count", execution.WriteCount),
			attribute.Int64("batch.step.commit_count", execution.CommitCount),
			attribute.Int64("batch.step.rollback_count", execution.RollbackCount),
		)
		endWithStatus(span, execution.Status, execution.ExitStatus)
	}
}

func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, execution *model.StepExecution, chunk int64) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunk",
		trace.WithAttributes(
			attribute.String("batch.step.name", execution.StepName),
			attribute.Int64("batch.chunk.number", chunk),
		))
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("batch.module", module)))
}

func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func endWithStatus(span trace.Span, status model.BatchStatus, exit model.ExitStatus) {
	span.SetAttributes(
		attribute.String("batch.status", status.String()),
		attribute.String("batch.exit_code", exit.ExitCode),
	)
	if status == model.BatchStatusFailed || status == model.BatchStatusUnknown {
		span.SetStatus(codes.Error, exit.ExitDescription)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
