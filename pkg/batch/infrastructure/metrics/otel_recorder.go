package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// MeterName is the instrumentation scope of the batch instruments.
const MeterName = "github.com/tigerroll/chunkflow/pkg/batch"

// OTelRecorder is a MetricRecorder on an OpenTelemetry Meter.
type OTelRecorder struct {
	jobs          otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	steps         otelmetric.Int64Counter
	stepDuration  otelmetric.Float64Histogram
	reads         otelmetric.Int64Counter
	processed     otelmetric.Int64Counter
	filtered      otelmetric.Int64Counter
	writes        otelmetric.Int64Counter
	skips         otelmetric.Int64Counter
	retries       otelmetric.Int64Counter
	commits       otelmetric.Int64Counter
	rollbacks     otelmetric.Int64Counter
	partitions    otelmetric.Int64Counter
	operationTime otelmetric.Float64Histogram
}

// NewOTelRecorder creates the batch instruments on meter.
func NewOTelRecorder(meter otelmetric.Meter) (*OTelRecorder, error) {
	var errs []error
	counter := func(name, desc string) otelmetric.Int64Counter {
		c, err := meter.Int64Counter(name, otelmetric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	histogram := func(name, desc string) otelmetric.Float64Histogram {
		h, err := meter.Float64Histogram(name, otelmetric.WithDescription(desc), otelmetric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}

	r := &OTelRecorder{
		jobs:          counter("batch.job.executions", "Job executions by status transition."),
		jobDuration:   histogram("batch.job.duration", "Duration of job executions."),
		steps:         counter("batch.step.executions", "Step executions by status transition."),
		stepDuration:  histogram("batch.step.duration", "Duration of step executions."),
		reads:         counter("batch.item.read", "Items read."),
		processed:     counter("batch.item.processed", "Items processed."),
		filtered:      counter("batch.item.filtered", "Items filtered."),
		writes:        counter("batch.item.written", "Items written."),
		skips:         counter("batch.item.skipped", "Items skipped."),
		retries:       counter("batch.item.retried", "Item retry attempts."),
		commits:       counter("batch.chunk.commits", "Chunk commits."),
		rollbacks:     counter("batch.chunk.rollbacks", "Chunk rollbacks."),
		partitions:    counter("batch.step.partitions", "Partitions dispatched."),
		operationTime: histogram("batch.operation.duration", "Duration of named operations."),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func stepAttrs(ctx context.Context, stepName string, extra ...attribute.KeyValue) otelmetric.AddOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("job.name", jobNameOf(ctx)),
		attribute.String("step.name", stepName),
	}, extra...)
	return otelmetric.WithAttributes(attrs...)
}

func (r *OTelRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobs.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job.name", execution.JobName),
		attribute.String("status", execution.Status.String())))
}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := []attribute.KeyValue{
		attribute.String("job.name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	}
	r.jobs.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	if execution.EndTime != nil {
		attrs = append(attrs, attribute.String("exit.code", execution.ExitStatus.ExitCode))
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), otelmetric.WithAttributes(attrs...))
	}
}

func (r *OTelRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.steps.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job.name", stepJobName(execution)),
		attribute.String("step.name", execution.StepName),
		attribute.String("status", execution.Status.String())))
}

func (r *OTelRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := []attribute.KeyValue{
		attribute.String("job.name", stepJobName(execution)),
		attribute.String("step.name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	}
	r.steps.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	if execution.EndTime != nil {
		attrs = append(attrs, attribute.String("exit.code", execution.ExitStatus.ExitCode))
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), otelmetric.WithAttributes(attrs...))
	}
}

func (r *OTelRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.reads.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.processed.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.filtered.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.writes.Add(ctx, int64(count), stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordItemSkip(ctx context.Context, stepName, phase string) {
	r.skips.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("phase", phase)))
}

func (r *OTelRecorder) RecordItemRetry(ctx context.Context, stepName, phase string) {
	r.retries.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("phase", phase)))
}

func (r *OTelRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.commits.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.rollbacks.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordPartitions(ctx context.Context, stepName string, count int) {
	r.partitions.Add(ctx, int64(count), stepAttrs(ctx, stepName))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationTime.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
