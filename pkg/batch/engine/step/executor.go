package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// stepListenerProvider is implemented by steps that carry StepExecutionListeners.
type stepListenerProvider interface {
	StepExecutionListeners() []port.StepExecutionListener
}

// SimpleStepExecutor executes a step synchronously in the caller's goroutine and records the
// outcome on the StepExecution.
type SimpleStepExecutor struct {
	jobRepository repository.JobRepository
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
}

var _ port.StepExecutor = (*SimpleStepExecutor)(nil)

// NewSimpleStepExecutor creates a SimpleStepExecutor. recorder and tracer may be nil.
func NewSimpleStepExecutor(jobRepository repository.JobRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer) *SimpleStepExecutor {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &SimpleStepExecutor{jobRepository: jobRepository, recorder: recorder, tracer: tracer}
}

// ExecuteStep marks stepExecution started, runs step with its listeners, maps the result to
// a terminal status and persists it. The returned error is the step's failure, if any.
func (e *SimpleStepExecutor) ExecuteStep(ctx context.Context, step port.Step, stepExecution *model.StepExecution) (*model.StepExecution, error) {
	name := stepExecution.StepName
	logger.Infof("Step '%s': starting (StepExecution ID: %s).", name, stepExecution.ID)

	stepExecution.MarkAsStarted()
	if err := e.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		wrapped := exception.NewBatchError("step", fmt.Sprintf("failed to mark step '%s' as started", name),
			fmt.Errorf("%w: %w", exception.ErrCheckpointPersistence, err), false, false)
		stepExecution.MarkAsUnknown(wrapped)
		return stepExecution, wrapped
	}

	ctx = port.WithStepExecution(ctx, stepExecution)
	ctx, endSpan := e.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()
	e.recorder.RecordStepStart(ctx, stepExecution)
	started := time.Now()

	var listeners []port.StepExecutionListener
	if p, ok := step.(stepListenerProvider); ok {
		listeners = p.StepExecutionListeners()
	}
	for _, l := range listeners {
		l.BeforeStep(ctx, stepExecution)
	}

	execErr := step.Execute(ctx, stepExecution.JobExecution, stepExecution)
	finish(stepExecution, execErr)
	if execErr != nil {
		e.tracer.RecordError(ctx, "step", execErr)
	}

	for i := len(listeners) - 1; i >= 0; i-- {
		listeners[i].AfterStep(ctx, stepExecution)
	}

	e.recorder.RecordStepEnd(ctx, stepExecution)
	e.recorder.RecordDuration(ctx, "step", time.Since(started), map[string]string{"step.name": name, "status": stepExecution.Status.String()})

	if err := e.persist(ctx, stepExecution); err != nil {
		wrapped := exception.NewBatchError("step", fmt.Sprintf("failed to persist final state of step '%s'", name),
			fmt.Errorf("%w: %w", exception.ErrCheckpointPersistence, err), false, false)
		logger.Errorf("Step '%s': %v", name, wrapped)
		stepExecution.MarkAsUnknown(wrapped)
		if execErr == nil {
			execErr = wrapped
		}
	}

	logger.Infof("Step '%s': finished with status %s (%s).", name, stepExecution.Status, stepExecution.ExitStatus.ExitCode)
	return stepExecution, execErr
}

func (e *SimpleStepExecutor) persist(ctx context.Context, se *model.StepExecution) error {
	se.ExitStatus = se.ExitStatus.Truncated(model.MaxExitDescriptionLength)
	if err := e.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		return err
	}
	return e.jobRepository.UpdateStepExecutionContext(ctx, se)
}

// finish maps the error returned by a step to its terminal status. A finished status that
// the step set itself (such as a status reduced from partitions) is kept if more severe.
func finish(se *model.StepExecution, err error) {
	reported := se.Status
	switch {
	case err == nil:
		se.MarkAsCompleted()
	case exception.IsInterrupted(err):
		se.MarkAsStopped()
		se.ExitStatus = se.ExitStatus.AddExitDescriptionFromError(err)
	case errors.Is(err, exception.ErrCheckpointPersistence):
		se.MarkAsUnknown(err)
	default:
		se.MarkAsFailed(err)
	}
	if reported.IsFinished() && reported.IsGreaterThan(se.Status) {
		se.Status = reported
		se.ExitStatus = se.ExitStatus.And(reported.ToExitStatus())
	}
}
