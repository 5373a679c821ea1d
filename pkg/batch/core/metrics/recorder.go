// Package metrics declares the observability hooks the engine calls. Backends live in
// infrastructure/metrics; the no-op versions here are the defaults.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MetricRecorder records job, step, chunk and item level events.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	// RecordJobEnd records the end of a JobExecution, labelled with its final status.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the end of a StepExecution with its duration and status.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	RecordItemRead(ctx context.Context, stepName string)
	RecordItemProcess(ctx context.Context, stepName string)
	RecordItemFilter(ctx context.Context, stepName string)
	RecordItemWrite(ctx context.Context, stepName string, count int)

	// RecordItemSkip records a skipped item. phase is "read", "process" or "write".
	RecordItemSkip(ctx context.Context, stepName, phase string)
	// RecordItemRetry records one retry attempt. phase is "read", "process" or "write".
	RecordItemRetry(ctx context.Context, stepName, phase string)

	RecordChunkCommit(ctx context.Context, stepName string, count int)
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordPartitions records how many partitions a partitioned step dispatched.
	RecordPartitions(ctx context.Context, stepName string, count int)

	// RecordDuration records the duration of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
