// Package repository defines the checkpoint store contract: durable records of job and step
// identity, status and execution context that make a stopped or crashed execution resumable.
package repository

import (
	"errors"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var (
	// ErrJobInstanceNotFound is returned when a JobInstance is not found.
	ErrJobInstanceNotFound = errors.New("job instance not found")
	// ErrJobExecutionNotFound is returned when a JobExecution is not found.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepExecutionNotFound is returned when a StepExecution is not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// JobRepository is the checkpoint store used by the engine. It embeds smaller interfaces to
// separate concerns.
//
// Implementations must allow concurrent calls for different StepExecutions. Updates are
// guarded by the Version field: an update whose version does not match the stored one fails
// with exception.ErrOptimisticLockingFailure. When a transaction is bound to the context
// (tx.WithTx) and the implementation shares its resource, writes join that transaction.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution
	ExecutionContext

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
