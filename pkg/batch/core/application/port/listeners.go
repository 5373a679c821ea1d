package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// StepExecutionListener is notified around a step execution.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep runs once the status is terminal. It may replace stepExecution.ExitStatus.
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// JobExecutionListener is notified around a job execution.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// ChunkListener is notified around each chunk transaction.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called after a successful commit.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after a rollback.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// ItemReadListener is notified about read failures.
type ItemReadListener interface {
	OnReadError(ctx context.Context, err error)
}

// ItemProcessListener is notified about process failures.
type ItemProcessListener interface {
	OnProcessError(ctx context.Context, item interface{}, err error)
}

// ItemWriteListener is notified about write failures.
type ItemWriteListener interface {
	OnWriteError(ctx context.Context, items []interface{}, err error)
}

// SkipListener is notified when an item is skipped. Calls happen once the skip is final.
type SkipListener interface {
	OnSkipInRead(ctx context.Context, err error)
	OnSkipInProcess(ctx context.Context, item interface{}, err error)
	OnSkipInWrite(ctx context.Context, item interface{}, err error)
}

// RetryItemListener is notified before a failed operation is attempted again.
type RetryItemListener interface {
	OnRetryRead(ctx context.Context, attempt int, err error)
	OnRetryProcess(ctx context.Context, item interface{}, attempt int, err error)
	OnRetryWrite(ctx context.Context, items []interface{}, attempt int, err error)
}

// StepListeners groups the listener lists of a step. Any slice may be empty.
type StepListeners struct {
	Step    []StepExecutionListener
	Chunk   []ChunkListener
	Read    []ItemReadListener
	Process []ItemProcessListener
	Write   []ItemWriteListener
	Skip    []SkipListener
	Retry   []RetryItemListener
}

// Register adds l to every list whose interface it implements.
func (s *StepListeners) Register(l interface{}) {
	if v, ok := l.(StepExecutionListener); ok {
		s.Step = append(s.Step, v)
	}
	if v, ok := l.(ChunkListener); ok {
		s.Chunk = append(s.Chunk, v)
	}
	if v, ok := l.(ItemReadListener); ok {
		s.Read = append(s.Read, v)
	}
	if v, ok := l.(ItemProcessListener); ok {
		s.Process = append(s.Process, v)
	}
	if v, ok := l.(ItemWriteListener); ok {
		s.Write = append(s.Write, v)
	}
	if v, ok := l.(SkipListener); ok {
		s.Skip = append(s.Skip, v)
	}
	if v, ok := l.(RetryItemListener); ok {
		s.Retry = append(s.Retry, v)
	}
}
