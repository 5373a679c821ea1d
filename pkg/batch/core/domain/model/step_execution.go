package model

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// StepExecution is one physical attempt to run a named step within a JobExecution.
// Counter and status updates go through methods that hold the execution's lock, so a
// partition master can be updated from several goroutines. Other goroutines should use
// IsFinished rather than read Status while the step runs.
type StepExecution struct {
	ID             string
	StepName       string
	JobExecutionID string
	JobExecution   *JobExecution

	Status      BatchStatus
	ExitStatus  ExitStatus
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time

	ReadCount        int64
	WriteCount       int64
	CommitCount      int64
	RollbackCount    int64
	FilterCount      int64
	ReadSkipCount    int64
	ProcessSkipCount int64
	WriteSkipCount   int64

	Failures         FailureList
	ExecutionContext *ExecutionContext
	Version          int

	mu            sync.Mutex
	failureCauses []error
	terminateOnly atomic.Bool
	finished      atomic.Bool
}

// NewStepExecution creates a StepExecution in STARTING state.
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               id,
		StepName:         stepName,
		JobExecution:     jobExecution,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusExecuting,
		StartTime:        now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
	}
	if jobExecution != nil {
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

// JobInstanceID returns the id of the owning job instance, or "" when detached.
func (se *StepExecution) JobInstanceID() string {
	if se.JobExecution == nil {
		return ""
	}
	return se.JobExecution.JobInstanceID
}

// CreateStepContribution returns an empty per-chunk accumulator.
func (se *StepExecution) CreateStepContribution() *StepContribution {
	return &StepContribution{ExitStatus: ExitStatusExecuting}
}

// Apply folds a committed chunk contribution into the counters.
func (se *StepExecution) Apply(c *StepContribution) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.ReadCount += c.ReadCount
	se.WriteCount += c.WriteCount
	se.FilterCount += c.FilterCount
	se.ReadSkipCount += c.ReadSkipCount
	se.ProcessSkipCount += c.ProcessSkipCount
	se.WriteSkipCount += c.WriteSkipCount
	se.ExitStatus = se.ExitStatus.And(c.ExitStatus)
	se.LastUpdated = time.Now()
}

// IncrementCommitCount records a committed chunk.
func (se *StepExecution) IncrementCommitCount() {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.CommitCount++
}

// IncrementRollbackCount records a rolled back chunk.
func (se *StepExecution) IncrementRollbackCount() {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.RollbackCount++
}

// AddCounts adds every counter of other. Used when reducing partitions.
func (se *StepExecution) AddCounts(other *StepExecution) {
	other.mu.Lock()
	read, write, commit, rollback := other.ReadCount, other.WriteCount, other.CommitCount, other.RollbackCount
	filter, readSkip, processSkip, writeSkip := other.FilterCount, other.ReadSkipCount, other.ProcessSkipCount, other.WriteSkipCount
	other.mu.Unlock()

	se.mu.Lock()
	defer se.mu.Unlock()
	se.ReadCount += read
	se.WriteCount += write
	se.CommitCount += commit
	se.RollbackCount += rollback
	se.FilterCount += filter
	se.ReadSkipCount += readSkip
	se.ProcessSkipCount += processSkip
	se.WriteSkipCount += writeSkip
}

// SkipCount is the total of read, process and write skips.
func (se *StepExecution) SkipCount() int64 {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.ReadSkipCount + se.ProcessSkipCount + se.WriteSkipCount
}

// SetTerminateOnly asks the step to stop at its next check point.
func (se *StepExecution) SetTerminateOnly() {
	se.terminateOnly.Store(true)
}

// IsTerminateOnly reports whether a stop was requested.
func (se *StepExecution) IsTerminateOnly() bool {
	return se.terminateOnly.Load()
}

// MarkAsStarted updates the status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	se.mu.Lock()
	defer se.mu.Unlock()
	now := time.Now()
	se.Status = BatchStatusStarted
	se.StartTime = now
	se.LastUpdated = now
	se.finished.Store(false)
}

// MarkAsCompleted updates the status to COMPLETED. A more specific exit code set earlier
// (e.g. by a listener) is kept.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted, func(current ExitStatus) ExitStatus {
		return current.And(ExitStatusCompleted)
	})
}

// MarkAsFailed updates the status to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.AddFailureException(err)
	se.finish(BatchStatusFailed, func(current ExitStatus) ExitStatus {
		return current.And(ExitStatusFailed).AddExitDescriptionFromError(err)
	})
}

// MarkAsStopped updates the status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped, func(current ExitStatus) ExitStatus {
		return current.And(ExitStatusStopped)
	})
}

// MarkAsUnknown is used when the execution's own bookkeeping failed: its persisted state
// can no longer be trusted for a restart.
func (se *StepExecution) MarkAsUnknown(err error) {
	se.AddFailureException(err)
	se.finish(BatchStatusUnknown, func(ExitStatus) ExitStatus {
		return ExitStatusUnknown.AddExitDescriptionFromError(err)
	})
}

func (se *StepExecution) finish(status BatchStatus, exit func(current ExitStatus) ExitStatus) {
	se.mu.Lock()
	defer se.mu.Unlock()
	now := time.Now()
	se.Status = status
	se.ExitStatus = exit(se.ExitStatus)
	se.EndTime = &now
	se.LastUpdated = now
	se.finished.Store(true)
}

// IsFinished reports whether one of the MarkAs methods ended this execution. It is safe to
// call while the step runs in another goroutine.
func (se *StepExecution) IsFinished() bool {
	return se.finished.Load()
}

// AddFailureException records err in memory and, deduplicated, in the persisted list.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	se.failureCauses = append(se.failureCauses, err)
	se.Failures = se.Failures.With(exception.ExtractErrorMessage(err))
}

// FailureExceptions returns the causes recorded during this run.
func (se *StepExecution) FailureExceptions() []error {
	se.mu.Lock()
	defer se.mu.Unlock()
	out := make([]error, len(se.failureCauses))
	copy(out, se.failureCauses)
	return out
}

// Clone returns a detached deep copy: counters, status, failures and a copied context.
// The stop flag and in-memory failure causes are carried over.
func (se *StepExecution) Clone() *StepExecution {
	se.mu.Lock()
	defer se.mu.Unlock()
	c := &StepExecution{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		JobExecution:     se.JobExecution,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		StartTime:        se.StartTime,
		LastUpdated:      se.LastUpdated,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		FilterCount:      se.FilterCount,
		ReadSkipCount:    se.ReadSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		Failures:         append(FailureList(nil), se.Failures...),
		ExecutionContext: se.ExecutionContext.Copy(),
		Version:          se.Version,
		failureCauses:    append([]error(nil), se.failureCauses...),
	}
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	c.terminateOnly.Store(se.terminateOnly.Load())
	c.finished.Store(se.finished.Load() || se.Status.IsFinished())
	return c
}

// CopyStateFrom overwrites status, counters, failures and context with other's values.
// Identity fields (ID, StepName, JobExecution) are kept.
func (se *StepExecution) CopyStateFrom(other *StepExecution) {
	snapshot := other.Clone()
	se.mu.Lock()
	defer se.mu.Unlock()
	se.Status = snapshot.Status
	se.ExitStatus = snapshot.ExitStatus
	se.StartTime = snapshot.StartTime
	se.EndTime = snapshot.EndTime
	se.LastUpdated = snapshot.LastUpdated
	se.ReadCount = snapshot.ReadCount
	se.WriteCount = snapshot.WriteCount
	se.CommitCount = snapshot.CommitCount
	se.RollbackCount = snapshot.RollbackCount
	se.FilterCount = snapshot.FilterCount
	se.ReadSkipCount = snapshot.ReadSkipCount
	se.ProcessSkipCount = snapshot.ProcessSkipCount
	se.WriteSkipCount = snapshot.WriteSkipCount
	se.Failures = snapshot.Failures
	se.ExecutionContext = snapshot.ExecutionContext
	se.Version = snapshot.Version
	se.finished.Store(snapshot.finished.Load())
}

// String returns a summary for logs; the context is omitted.
func (se *StepExecution) String() string {
	return fmt.Sprintf(
		"StepExecution{id=%s, name=%s, status=%s, exitStatus=%s, read=%d, write=%d, filter=%d, commit=%d, rollback=%d, readSkip=%d, processSkip=%d, writeSkip=%d}",
		se.ID, se.StepName, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount, se.FilterCount,
		se.CommitCount, se.RollbackCount, se.ReadSkipCount, se.ProcessSkipCount, se.WriteSkipCount,
	)
}
