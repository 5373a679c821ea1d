package step

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// ScopedStep builds a new step for every execution. Partitions of one worker step then each
// get their own reader and writer instead of sharing stateful streams.
type ScopedStep struct {
	template port.Step
	build    func() port.Step
}

var _ port.Step = (*ScopedStep)(nil)

// NewScopedStep calls build once to learn the step's name and start policy, and again for
// every Execute.
func NewScopedStep(build func() port.Step) *ScopedStep {
	return &ScopedStep{template: build(), build: build}
}

func (s *ScopedStep) StepName() string { return s.template.StepName() }

func (s *ScopedStep) StartLimit() int { return s.template.StartLimit() }

func (s *ScopedStep) AllowStartIfComplete() bool { return s.template.AllowStartIfComplete() }

// StepExecutionListeners returns the listeners of the template step, if it has any.
func (s *ScopedStep) StepExecutionListeners() []port.StepExecutionListener {
	if p, ok := s.template.(stepListenerProvider); ok {
		return p.StepExecutionListeners()
	}
	return nil
}

func (s *ScopedStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	return s.build().Execute(ctx, jobExecution, stepExecution)
}
