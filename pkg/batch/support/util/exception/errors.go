package exception

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"syscall"
)

// Registered names of the engine's sentinel errors.
const (
	OptimisticLockingFailureException = "OptimisticLockingFailureException"
	ResourceExhaustedException        = "ResourceExhaustedException"
	JobInterruptedException           = "JobInterruptedException"
	JobRestartException               = "JobRestartException"
	StartLimitExceededException       = "StartLimitExceededException"
	TaskRejectedException             = "TaskRejectedException"
	SkipLimitExceededException        = "SkipLimitExceededException"
	RetryExhaustedException           = "RetryExhaustedException"
	CheckpointPersistenceException    = "CheckpointPersistenceException"
	NoChildExecutionsException        = "NoChildExecutionsException"
)

var (
	// ErrOptimisticLockingFailure signals that a persisted execution changed underneath the caller.
	ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)
	// ErrResourceExhausted marks the resource-exhaustion class (memory, handles, quota).
	// Errors of this class are never retried unless explicitly listed as retryable.
	ErrResourceExhausted = errors.New(ResourceExhaustedException)
	// ErrJobInterrupted is raised when a step observes its stop flag; it maps to STOPPED.
	ErrJobInterrupted = errors.New(JobInterruptedException)
	// ErrRestartIntegrity is raised when a step cannot be safely (re)started.
	ErrRestartIntegrity = errors.New(JobRestartException)
	// ErrStartLimitExceeded is raised when a step has been started too many times.
	ErrStartLimitExceeded = errors.New(StartLimitExceededException)
	// ErrTaskRejected is returned by a task executor that cannot accept more work.
	ErrTaskRejected = errors.New(TaskRejectedException)
	// ErrSkipLimitExceeded is raised when a skippable failure arrives after the skip limit is used up.
	ErrSkipLimitExceeded = errors.New(SkipLimitExceededException)
	// ErrRetryExhausted wraps the last cause once all retry attempts are spent.
	ErrRetryExhausted = errors.New(RetryExhaustedException)
	// ErrCheckpointPersistence is raised when step state could not be written to the store.
	ErrCheckpointPersistence = errors.New(CheckpointPersistenceException)
	// ErrNoChildExecutions is raised when partition results are aggregated from an empty set.
	ErrNoChildExecutions = errors.New(NoChildExecutionsException)
)

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType(ResourceExhaustedException, ErrResourceExhausted)
	RegisterErrorType(JobInterruptedException, ErrJobInterrupted)
	RegisterErrorType(JobRestartException, ErrRestartIntegrity)
	RegisterErrorType(StartLimitExceededException, ErrStartLimitExceeded)
	RegisterErrorType(TaskRejectedException, ErrTaskRejected)
	RegisterErrorType(SkipLimitExceededException, ErrSkipLimitExceeded)
	RegisterErrorType(RetryExhaustedException, ErrRetryExhausted)
	RegisterErrorType(CheckpointPersistenceException, ErrCheckpointPersistence)
	RegisterErrorType(NoChildExecutionsException, ErrNoChildExecutions)

	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
	RegisterErrorType("syscall.ENOMEM", syscall.ENOMEM)
}

// NewOptimisticLockingFailureException wraps originalErr (if any) with ErrOptimisticLockingFailure.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	cause := ErrOptimisticLockingFailure
	if originalErr != nil {
		cause = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(module, message, cause, false, false)
}

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// IsResourceExhausted reports whether err belongs to the resource-exhaustion class.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted) || errors.Is(err, syscall.ENOMEM)
}

// IsInterrupted reports whether err signals a cooperative stop.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrJobInterrupted)
}
