package repository

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobExecution stores the attempts made for a JobInstance.
type JobExecution interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution persists status, times, failures and the execution context. A stale
	// Version is reported as an optimistic locking failure.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindLatestJobExecution is what restart decisions are based on.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)

	// FindJobExecutionsByJobInstance lists newest first.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error)
}
