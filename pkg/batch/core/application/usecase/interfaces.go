// Package usecase launches, operates and inspects job executions.
package usecase

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobLauncher runs a registered job with parameters.
type JobLauncher interface {
	// Launch runs the job to completion and returns its execution. The error reports a failure
	// of the launch itself; the job's own outcome is carried on the returned execution.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// Start persists a new execution and runs it in the background.
	Start(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobOperator restarts, stops and abandons executions.
type JobOperator interface {
	// Restart launches a new execution of the instance a FAILED or STOPPED execution belongs to.
	Restart(ctx context.Context, executionID string) (*model.JobExecution, error)

	// Stop asks an execution running in this process to stop at its next check point.
	Stop(ctx context.Context, executionID string) error

	// Abandon marks an execution that is not running here as ABANDONED. Its instance can no
	// longer be restarted.
	Abandon(ctx context.Context, executionID string) error

	// StartNextInstance launches jobName with parameters derived by the incrementer, so a new
	// JobInstance is always created.
	StartNextInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobExplorer reads batch metadata.
type JobExplorer interface {
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetJobExecutions returns the executions of an instance, newest first.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)

	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)

	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)

	// FindJobInstance returns the instance identified by jobName and params.
	FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	GetStepExecutions(ctx context.Context, executionID string) ([]*model.StepExecution, error)

	// GetJobNames returns the names of the registered jobs.
	GetJobNames(ctx context.Context) ([]string, error)
}
