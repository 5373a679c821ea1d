package repository

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// StepExecution defines operations for persisting and retrieving step executions.
type StepExecution interface {
	// SaveStepExecution persists a new StepExecution together with its ExecutionContext.
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateStepExecution updates status and counters of an existing StepExecution and
	// increments its Version.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// FindStepExecutionByID finds a StepExecution by its ID. The returned execution is
	// detached: its JobExecution holds only the identifying fields.
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)

	// FindLatestStepExecution finds the most recent StepExecution named stepName across all
	// JobExecutions of a JobInstance.
	FindLatestStepExecution(ctx context.Context, jobInstanceID, stepName string) (*model.StepExecution, error)

	// CountStepExecutions counts StepExecutions named stepName across all JobExecutions of a
	// JobInstance. Used for start limits.
	CountStepExecutions(ctx context.Context, jobInstanceID, stepName string) (int, error)

	// FindStepExecutionsByJobExecutionID finds the StepExecutions of a JobExecution in start order.
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// ExecutionContext defines operations for persisting execution contexts on their own, for
// checkpoints that change nothing but the context.
type ExecutionContext interface {
	// UpdateStepExecutionContext persists the ExecutionContext of a StepExecution.
	UpdateStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateJobExecutionContext persists the ExecutionContext of a JobExecution.
	UpdateJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error
}
