// Package step runs steps: restart decisions, status bookkeeping and step listeners around a
// port.Step's own work.
package step

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StartPolicy describes how a step may be started again within its JobInstance.
type StartPolicy struct {
	StartLimit           int
	AllowStartIfComplete bool
}

// ShouldStart decides whether stepName may start within jobExecution. It returns the most
// recent prior execution of the step in the same JobInstance, or nil.
//
// A prior execution in UNKNOWN, STARTING, STARTED, STOPPING or ABANDONED status refuses the
// start with ErrRestartIntegrity. A COMPLETED one is skipped (false, nil error) unless it
// belongs to jobExecution or policy allows it. Exceeding the start limit returns
// ErrStartLimitExceeded.
func ShouldStart(ctx context.Context, repo repository.StepExecution, jobExecution *model.JobExecution, stepName string, policy StartPolicy) (bool, *model.StepExecution, error) {
	last, err := repo.FindLatestStepExecution(ctx, jobExecution.JobInstanceID, stepName)
	if err != nil {
		if !errors.Is(err, repository.ErrStepExecutionNotFound) {
			return false, nil, exception.NewBatchError("step", fmt.Sprintf("failed to look up last execution of step '%s'", stepName), err, false, false)
		}
		last = nil
	}

	if last != nil {
		switch last.Status {
		case model.BatchStatusUnknown:
			return false, last, exception.NewBatchError("step",
				fmt.Sprintf("cannot restart step '%s' from UNKNOWN status (StepExecution ID: %s); its checkpoint cannot be trusted", stepName, last.ID),
				exception.ErrRestartIntegrity, false, false)
		case model.BatchStatusStarting, model.BatchStatusStarted, model.BatchStatusStopping:
			if last.JobExecutionID != jobExecution.ID {
				return false, last, exception.NewBatchError("step",
					fmt.Sprintf("step '%s' is still %s in another execution (StepExecution ID: %s)", stepName, last.Status, last.ID),
					exception.ErrRestartIntegrity, false, false)
			}
		case model.BatchStatusAbandoned:
			return false, last, exception.NewBatchError("step",
				fmt.Sprintf("step '%s' was abandoned (StepExecution ID: %s)", stepName, last.ID),
				exception.ErrRestartIntegrity, false, false)
		case model.BatchStatusCompleted:
			if last.JobExecutionID != jobExecution.ID && !policy.AllowStartIfComplete {
				logger.Infof("Step '%s': already completed (StepExecution ID: %s). Skipping.", stepName, last.ID)
				return false, last, nil
			}
		}
	}

	if policy.StartLimit > 0 {
		count, err := repo.CountStepExecutions(ctx, jobExecution.JobInstanceID, stepName)
		if err != nil {
			return false, last, exception.NewBatchError("step", fmt.Sprintf("failed to count executions of step '%s'", stepName), err, false, false)
		}
		if count >= policy.StartLimit {
			return false, last, exception.NewBatchError("step",
				fmt.Sprintf("step '%s' has reached its start limit of %d", stepName, policy.StartLimit),
				exception.ErrStartLimitExceeded, false, false)
		}
	}
	return true, last, nil
}

// InheritContext copies last's ExecutionContext into se when last is a prior execution that se
// resumes: one that did not complete, or a completed one started again under
// AllowStartIfComplete or within the same JobExecution.
func InheritContext(se, last *model.StepExecution) {
	if last == nil || last.ExecutionContext == nil {
		return
	}
	se.ExecutionContext = last.ExecutionContext.Copy()
	se.ExecutionContext.ClearDirtyFlag()
	logger.Debugf("Step '%s': resuming from context of StepExecution ID: %s (%d keys).", se.StepName, last.ID, se.ExecutionContext.Len())
}
