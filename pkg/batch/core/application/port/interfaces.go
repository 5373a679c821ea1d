// Package port defines the core interfaces (ports) of the batch engine: the item pipeline it
// consumes, the steps and jobs it drives, and the listener extension points.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ErrNoMoreItems is returned by ItemReader.Read at the end of input. It is a result, not a
// failure: the chunk ends early and the step is exhausted.
var ErrNoMoreItems = errors.New("no more items to read")

type rereadableError struct{ err error }

func (e *rereadableError) Error() string { return e.err.Error() }
func (e *rereadableError) Unwrap() error { return e.err }

// Rereadable marks a read failure that left the reader where it was, so the next Read
// delivers the same record again. Only such failures are retried. Any other read failure is
// taken to have consumed its record and goes straight to skip or fatal classification.
func Rereadable(err error) error {
	if err == nil {
		return nil
	}
	return &rereadableError{err: err}
}

// IsRereadable reports whether err, or an error it wraps, was marked by Rereadable.
func IsRereadable(err error) bool {
	var r *rereadableError
	return errors.As(err, &r)
}

// ItemStream is implemented by readers and writers that hold resources or restartable state.
//
// Open restores state from the step's ExecutionContext before the first chunk. Update writes
// the current position into ec before each checkpoint; it must only describe committed work.
// Close releases resources when the step ends, whatever the outcome.
type ItemStream interface {
	Open(ctx context.Context, ec *model.ExecutionContext) error
	Update(ctx context.Context, ec *model.ExecutionContext) error
	Close(ctx context.Context) error
}

// ItemReader is a source of items. O is the type of item read.
type ItemReader[O any] interface {
	// Read returns the next item, or ErrNoMoreItems once input is exhausted.
	Read(ctx context.Context) (O, error)
}

// ItemProcessor transforms one item. A nil result filters the item: it is counted and not written.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter is the sink of a chunk. It always receives the whole pending buffer at once,
// inside the chunk transaction t.
type ItemWriter[I any] interface {
	Write(ctx context.Context, t tx.Tx, items []I) error
}

// Step is a single step of a job.
type Step interface {
	// StepName returns the logical name of the step.
	StepName() string
	// Execute runs the step's work against stepExecution. Status bookkeeping (start, end,
	// restart checks) is done by the caller; Execute returns the terminal error, if any.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
	// StartLimit is how many times the step may be started per JobInstance. 0 is unlimited.
	StartLimit() int
	// AllowStartIfComplete lets a completed step run again when its job is restarted.
	AllowStartIfComplete() bool
}

// StepExecutor runs a Step against a prepared StepExecution and records the outcome on it.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step Step, stepExecution *model.StepExecution) (*model.StepExecution, error)
}

// Job is an executable batch job.
type Job interface {
	JobName() string
	// Run executes the job's steps against jobExecution.
	Run(ctx context.Context, jobExecution *model.JobExecution) error
}

// RemoteStepSubmitter hands a prepared child StepExecution to another process. The remote side
// records progress through the shared JobRepository; the caller polls it.
type RemoteStepSubmitter interface {
	Submit(ctx context.Context, step Step, stepExecution *model.StepExecution) error
}
