package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SimpleJobExplorer answers metadata queries from the JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
	registry      *job.Registry
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

func NewSimpleJobExplorer(jobRepository repository.JobRepository, registry *job.Registry) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository, registry: registry}
}

func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to load JobExecution %s", executionID), err, false, false)
	}
	return je, nil
}

func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	executions, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to load executions of JobInstance %s", instanceID), err, false, false)
	}
	return executions, nil
}

func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to load the latest execution of JobInstance %s", instanceID), err, false, false)
	}
	return je, nil
}

func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	instance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to load JobInstance %s", instanceID), err, false, false)
	}
	return instance, nil
}

func (e *SimpleJobExplorer) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	instance, err := e.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to find JobInstance of job '%s'", jobName), err, false, false)
	}
	return instance, nil
}

func (e *SimpleJobExplorer) GetStepExecutions(ctx context.Context, executionID string) ([]*model.StepExecution, error) {
	steps, err := e.jobRepository.FindStepExecutionsByJobExecutionID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to load step executions of JobExecution %s", executionID), err, false, false)
	}
	return steps, nil
}

func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	return e.registry.Names(), nil
}
