package metrics

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Tracer integrates with a distributed tracing system. Every Start method returns a context
// carrying the new span and a function that ends it.
type Tracer interface {
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// StartChunkSpan starts a span covering one chunk transaction.
	StartChunkSpan(ctx context.Context, execution *model.StepExecution, chunk int64) (context.Context, func())

	// RecordError records err on the current span. module names the failing component.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event with attributes to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
