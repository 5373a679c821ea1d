package test

import (
	"context"
	"sync/atomic"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// FuncStep is a port.Step running Fn. A nil Fn completes immediately.
type FuncStep struct {
	Name          string
	Fn            func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error
	Limit         int
	AllowComplete bool

	runs atomic.Int32
}

func (s *FuncStep) StepName() string { return s.Name }

func (s *FuncStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	s.runs.Add(1)
	if s.Fn == nil {
		return nil
	}
	return s.Fn(ctx, je, se)
}

func (s *FuncStep) StartLimit() int { return s.Limit }

func (s *FuncStep) AllowStartIfComplete() bool { return s.AllowComplete }

// Runs returns how often Execute was called.
func (s *FuncStep) Runs() int { return int(s.runs.Load()) }
