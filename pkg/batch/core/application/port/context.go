package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

type contextKey int

const (
	stepExecutionKey contextKey = iota
	jobExecutionKey
)

// WithStepExecution stores the running StepExecution in ctx so step-scoped collaborators
// (readers, writers, listeners) can reach it without global state.
func WithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// StepExecutionFromContext returns the StepExecution stored by WithStepExecution, or nil.
func StepExecutionFromContext(ctx context.Context) *model.StepExecution {
	se, _ := ctx.Value(stepExecutionKey).(*model.StepExecution)
	return se
}

// WithJobExecution stores the running JobExecution in ctx.
func WithJobExecution(ctx context.Context, je *model.JobExecution) context.Context {
	return context.WithValue(ctx, jobExecutionKey, je)
}

// JobExecutionFromContext returns the JobExecution stored by WithJobExecution, or nil.
func JobExecutionFromContext(ctx context.Context) *model.JobExecution {
	je, _ := ctx.Value(jobExecutionKey).(*model.JobExecution)
	return je
}
