package usecase

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultJobOperator operates executions through the launcher of this process.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	launcher      *SimpleJobLauncher
	incrementer   job.ParametersIncrementer
}

var _ JobOperator = (*DefaultJobOperator)(nil)

func NewDefaultJobOperator(jobRepository repository.JobRepository, launcher *SimpleJobLauncher, incrementer job.ParametersIncrementer) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		launcher:      launcher,
		incrementer:   incrementer,
	}
}

// Restart runs the instance of executionID again, synchronously.
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (*model.JobExecution, error) {
	prev, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("cannot restart JobExecution %s", executionID), err, false, false)
	}
	if prev.Status != model.BatchStatusFailed && prev.Status != model.BatchStatusStopped {
		return nil, exception.NewBatchError("job_operator",
			fmt.Sprintf("JobExecution %s is %s; only FAILED or STOPPED executions can be restarted", executionID, prev.Status),
			exception.ErrRestartIntegrity, false, false)
	}
	instance, err := o.jobRepository.FindJobInstanceByID(ctx, prev.JobInstanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("cannot load JobInstance %s", prev.JobInstanceID), err, false, false)
	}

	logger.Infof("JobOperator: restarting job '%s' from execution %s (%s).", instance.JobName, prev.ID, prev.Status)
	return o.launcher.Launch(ctx, instance.JobName, instance.Parameters)
}

// Stop sets the stop flags of an execution running in this process. The execution records
// STOPPED itself once its steps notice.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	je, ok := o.launcher.Active(executionID)
	if !ok {
		stored, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
		if err != nil {
			return exception.NewBatchError("job_operator", fmt.Sprintf("cannot stop JobExecution %s", executionID), err, false, false)
		}
		if stored.Status.IsFinished() {
			return exception.NewBatchErrorf("job_operator", "JobExecution %s is already %s", executionID, stored.Status)
		}
		return exception.NewBatchErrorf("job_operator", "JobExecution %s (%s) is not running in this process", executionID, stored.Status)
	}
	je.Stop()
	logger.Infof("JobOperator: stop requested for job '%s' (execution %s).", je.JobName, je.ID)
	return nil
}

// Abandon marks a finished or orphaned execution as ABANDONED.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	if _, running := o.launcher.Active(executionID); running {
		return exception.NewBatchErrorf("job_operator", "JobExecution %s is running in this process; stop it first", executionID)
	}
	je, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("cannot abandon JobExecution %s", executionID), err, false, false)
	}
	switch je.Status {
	case model.BatchStatusAbandoned:
		return nil
	case model.BatchStatusCompleted:
		return exception.NewBatchErrorf("job_operator", "JobExecution %s is COMPLETED and cannot be abandoned", executionID)
	}

	je.Status = model.BatchStatusAbandoned
	if je.EndTime == nil {
		now := time.Now()
		je.EndTime = &now
	}
	je.LastUpdated = time.Now()
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("failed to persist ABANDONED for JobExecution %s", executionID), err, false, false)
	}
	logger.Infof("JobOperator: JobExecution %s of job '%s' abandoned.", je.ID, je.JobName)
	return nil
}

func (o *DefaultJobOperator) StartNextInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	next, err := o.incrementer.GetNext(ctx, jobName, params)
	if err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("cannot derive parameters for the next instance of '%s'", jobName), err, false, false)
	}
	return o.launcher.Launch(ctx, jobName, next)
}
