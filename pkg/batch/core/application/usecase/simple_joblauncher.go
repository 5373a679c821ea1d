package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const (
	JobExecutionAlreadyRunningException = "JobExecutionAlreadyRunningException"
	JobInstanceAlreadyCompleteException = "JobInstanceAlreadyCompleteException"
)

var (
	// ErrJobExecutionAlreadyRunning is returned when the instance has an execution that is not finished.
	ErrJobExecutionAlreadyRunning = errors.New(JobExecutionAlreadyRunningException)
	// ErrJobInstanceAlreadyComplete is returned when the instance completed or was abandoned.
	ErrJobInstanceAlreadyComplete = errors.New(JobInstanceAlreadyCompleteException)
)

func init() {
	exception.RegisterErrorType(JobExecutionAlreadyRunningException, ErrJobExecutionAlreadyRunning)
	exception.RegisterErrorType(JobInstanceAlreadyCompleteException, ErrJobInstanceAlreadyComplete)
}

// SimpleJobLauncher runs jobs in the current process.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	registry      *job.Registry

	mu     sync.Mutex
	active map[string]*model.JobExecution
	wg     sync.WaitGroup
}

func NewSimpleJobLauncher(jobRepository repository.JobRepository, registry *job.Registry) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository: jobRepository,
		registry:      registry,
		active:        make(map[string]*model.JobExecution),
	}
}

func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	j, je, err := l.prepare(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	return je, l.run(ctx, j, je)
}

func (l *SimpleJobLauncher) Start(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	j, je, err := l.prepare(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	l.track(je)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.run(context.WithoutCancel(ctx), j, je); err != nil {
			logger.Errorf("JobLauncher: execution %s of job '%s': %v", je.ID, jobName, err)
		}
	}()
	return je, nil
}

// Active returns the execution with id when it is running in this process.
func (l *SimpleJobLauncher) Active(executionID string) (*model.JobExecution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	je, ok := l.active[executionID]
	return je, ok
}

// Wait blocks until every execution started with Start has finished or ctx is done.
func (l *SimpleJobLauncher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare resolves the job and its instance, checks that a new execution is allowed and saves it.
func (l *SimpleJobLauncher) prepare(ctx context.Context, jobName string, params model.JobParameters) (port.Job, *model.JobExecution, error) {
	j, err := l.registry.Get(jobName)
	if err != nil {
		return nil, nil, exception.NewBatchError("job_launcher", "cannot launch", err, false, false)
	}

	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	var previous *model.JobExecution
	switch {
	case errors.Is(err, repository.ErrJobInstanceNotFound):
		instance, err = model.NewJobInstance(jobName, params)
		if err != nil {
			return nil, nil, err
		}
		if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
			return nil, nil, exception.NewBatchError("job_launcher", fmt.Sprintf("failed to save JobInstance of job '%s'", jobName), err, false, false)
		}
		logger.Infof("JobLauncher: created JobInstance %s for job '%s'.", instance.ID, jobName)
	case err != nil:
		return nil, nil, exception.NewBatchError("job_launcher", fmt.Sprintf("failed to look up JobInstance of job '%s'", jobName), err, false, false)
	default:
		previous, err = l.checkRestartable(ctx, instance)
		if err != nil {
			return nil, nil, err
		}
	}

	je := model.NewJobExecution(instance, params)
	if previous != nil {
		je.ExecutionContext = previous.ExecutionContext.Copy()
		logger.Infof("JobLauncher: restarting job '%s' (instance %s) after %s execution %s.", jobName, instance.ID, previous.Status, previous.ID)
	}
	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		return nil, nil, exception.NewBatchError("job_launcher", fmt.Sprintf("failed to save JobExecution of job '%s'", jobName), err, false, false)
	}
	return j, je, nil
}

// checkRestartable returns the newest prior execution, or an error when none of the prior
// executions permits another one.
func (l *SimpleJobLauncher) checkRestartable(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error) {
	executions, err := l.jobRepository.FindJobExecutionsByJobInstance(ctx, instance.ID)
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("failed to load executions of JobInstance %s", instance.ID), err, false, false)
	}
	for _, e := range executions {
		switch {
		case e.Status.IsRunning():
			return nil, exception.NewBatchError("job_launcher",
				fmt.Sprintf("execution %s of JobInstance %s is %s", e.ID, instance.ID, e.Status), ErrJobExecutionAlreadyRunning, false, false)
		case e.Status == model.BatchStatusUnknown:
			return nil, exception.NewBatchError("job_launcher",
				fmt.Sprintf("execution %s of JobInstance %s is UNKNOWN and needs operator attention", e.ID, instance.ID), exception.ErrRestartIntegrity, false, false)
		case e.Status == model.BatchStatusCompleted, e.Status == model.BatchStatusAbandoned:
			return nil, exception.NewBatchError("job_launcher",
				fmt.Sprintf("JobInstance %s is already %s", instance.ID, e.Status), ErrJobInstanceAlreadyComplete, false, false)
		}
	}
	if len(executions) == 0 {
		return nil, nil
	}
	return executions[0], nil
}

func (l *SimpleJobLauncher) run(ctx context.Context, j port.Job, je *model.JobExecution) error {
	l.track(je)
	defer l.untrack(je)

	ctx = port.WithJobExecution(ctx, je)
	je.MarkAsStarted()
	if err := l.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		je.Finish(model.BatchStatusFailed, model.ExitStatusFailed.AddExitDescriptionFromError(err))
		return exception.NewBatchError("job_launcher", fmt.Sprintf("failed to mark execution %s as started", je.ID), err, false, false)
	}

	logger.Infof("JobLauncher: running job '%s' (execution %s).", je.JobName, je.ID)
	if err := j.Run(ctx, je); err != nil {
		logger.Warnf("JobLauncher: job '%s' (execution %s) ended with %s: %v", je.JobName, je.ID, je.Status, err)
	}

	if err := l.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), je); err != nil {
		return exception.NewBatchError("job_launcher", fmt.Sprintf("failed to record the outcome of execution %s", je.ID), err, false, false)
	}
	return nil
}

func (l *SimpleJobLauncher) track(je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[je.ID] = je
}

func (l *SimpleJobLauncher) untrack(je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, je.ID)
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)
