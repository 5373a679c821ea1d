package step

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StepHandler starts a step within a JobExecution: it applies the restart rules, creates and
// saves the StepExecution and hands it to a StepExecutor.
type StepHandler struct {
	jobRepository repository.JobRepository
	executor      port.StepExecutor
}

// NewStepHandler creates a StepHandler.
func NewStepHandler(jobRepository repository.JobRepository, executor port.StepExecutor) *StepHandler {
	return &StepHandler{jobRepository: jobRepository, executor: executor}
}

// HandleStep runs step within jobExecution. When the step is skipped because it already
// completed, the prior execution is returned with a nil error.
func (h *StepHandler) HandleStep(ctx context.Context, step port.Step, jobExecution *model.JobExecution) (*model.StepExecution, error) {
	name := step.StepName()
	if jobExecution.IsStopping() {
		return nil, exception.NewBatchError("step", fmt.Sprintf("JobExecution '%s' is stopping; step '%s' not started", jobExecution.ID, name), exception.ErrJobInterrupted, false, false)
	}

	ok, last, err := ShouldStart(ctx, h.jobRepository, jobExecution, name, StartPolicy{
		StartLimit:           step.StartLimit(),
		AllowStartIfComplete: step.AllowStartIfComplete(),
	})
	if err != nil {
		logger.Errorf("Step '%s': refused to start: %v", name, err)
		return nil, err
	}
	if !ok {
		return last, nil
	}

	se := jobExecution.CreateStepExecution(name)
	InheritContext(se, last)
	if err := h.jobRepository.SaveStepExecution(ctx, se); err != nil {
		return se, exception.NewBatchError("step", fmt.Sprintf("failed to save StepExecution for step '%s'", name), err, false, false)
	}
	return h.executor.ExecuteStep(ctx, step, se)
}
