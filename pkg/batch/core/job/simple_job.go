// Package job assembles steps into runnable jobs and keeps the registry the launcher resolves
// job names against.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StepRunner starts one step inside a JobExecution, applying the restart rules.
// *step.StepHandler satisfies it.
type StepRunner interface {
	HandleStep(ctx context.Context, step port.Step, jobExecution *model.JobExecution) (*model.StepExecution, error)
}

// SimpleJob runs its steps in order. The job ends at the first step that does not complete.
type SimpleJob struct {
	name      string
	steps     []port.Step
	runner    StepRunner
	listeners []port.JobExecutionListener
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
}

// Option configures a SimpleJob.
type Option func(*SimpleJob)

func WithListeners(listeners ...port.JobExecutionListener) Option {
	return func(j *SimpleJob) {
		j.listeners = append(j.listeners, listeners...)
	}
}

func WithMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) Option {
	return func(j *SimpleJob) {
		if recorder != nil {
			j.recorder = recorder
		}
		if tracer != nil {
			j.tracer = tracer
		}
	}
}

// NewSimpleJob creates a job named name running steps through runner.
func NewSimpleJob(name string, runner StepRunner, steps []port.Step, opts ...Option) *SimpleJob {
	j := &SimpleJob{
		name:     name,
		steps:    steps,
		runner:   runner,
		recorder: metrics.NewNoOpMetricRecorder(),
		tracer:   metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *SimpleJob) JobName() string {
	return j.name
}

// Steps returns the configured steps in execution order.
func (j *SimpleJob) Steps() []port.Step {
	out := make([]port.Step, len(j.steps))
	copy(out, j.steps)
	return out
}

// Run executes the steps and finishes jobExecution. The returned error is the one that ended
// the job, if any; the outcome itself is carried on jobExecution.
func (j *SimpleJob) Run(ctx context.Context, jobExecution *model.JobExecution) error {
	ctx, endSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()

	if jobExecution.IsStopping() {
		logger.Infof("Job '%s' (execution %s) was stopped before it started.", j.name, jobExecution.ID)
		jobExecution.Finish(model.BatchStatusStopped, model.ExitStatusNoop.AddExitDescription("job stopped before it started"))
		return nil
	}

	started := time.Now()
	j.recorder.RecordJobStart(ctx, jobExecution)
	for _, l := range j.listeners {
		l.BeforeJob(ctx, jobExecution)
	}

	status, exitStatus, err := j.execute(ctx, jobExecution)
	if err != nil {
		jobExecution.AddFailureException(err)
		j.tracer.RecordError(ctx, "job", err)
	}
	if jobExecution.IsStopping() && !status.IsUnsuccessful() {
		status = model.BatchStatusStopped
		exitStatus = exitStatus.And(model.ExitStatusStopped)
	}
	jobExecution.Finish(status, exitStatus)

	for _, l := range j.listeners {
		l.AfterJob(ctx, jobExecution)
	}
	j.recorder.RecordJobEnd(ctx, jobExecution)
	j.recorder.RecordDuration(ctx, "job", time.Since(started), map[string]string{
		"job_name": j.name,
		"status":   string(status),
	})
	return err
}

func (j *SimpleJob) execute(ctx context.Context, jobExecution *model.JobExecution) (model.BatchStatus, model.ExitStatus, error) {
	if len(j.steps) == 0 {
		return model.BatchStatusCompleted, model.ExitStatusNoop.AddExitDescription("no steps configured"), nil
	}

	exitStatus := model.ExitStatusUnknown
	var last *model.StepExecution
	for _, s := range j.steps {
		if err := ctx.Err(); err != nil {
			interrupted := exception.NewBatchError("job", fmt.Sprintf("job '%s' interrupted before step '%s'", j.name, s.StepName()), errors.Join(exception.ErrJobInterrupted, err), false, false)
			return model.BatchStatusStopped, exitStatus.And(model.ExitStatusStopped), interrupted
		}
		if jobExecution.IsStopping() {
			return model.BatchStatusStopped, exitStatus.And(model.ExitStatusStopped), nil
		}

		se, err := j.runner.HandleStep(ctx, s, jobExecution)
		if se != nil {
			last = se
			exitStatus = exitStatus.And(se.ExitStatus)
		}
		if err != nil {
			switch {
			case exception.IsInterrupted(err):
				return model.BatchStatusStopped, exitStatus.And(model.ExitStatusStopped), err
			case se == nil || !se.Status.IsFinished():
				return model.BatchStatusFailed, exitStatus.And(model.ExitStatusFailed.AddExitDescriptionFromError(err)), err
			default:
				return se.Status, exitStatus, err
			}
		}
		if se.Status != model.BatchStatusCompleted {
			logger.Infof("Job '%s': step '%s' ended with %s; remaining steps are not run.", j.name, se.StepName, se.Status)
			return se.Status, exitStatus, nil
		}
	}
	return last.Status, exitStatus, nil
}

var _ port.Job = (*SimpleJob)(nil)
