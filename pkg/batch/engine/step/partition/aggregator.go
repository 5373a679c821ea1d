package partition

import (
	"context"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// DefaultStepExecutionAggregator folds children into the master: the most severe status, the
// exit statuses combined with And, and the sum of every counter.
type DefaultStepExecutionAggregator struct {
	mu sync.Mutex
}

var _ port.StepExecutionAggregator = (*DefaultStepExecutionAggregator)(nil)

// NewDefaultStepExecutionAggregator creates a DefaultStepExecutionAggregator.
func NewDefaultStepExecutionAggregator() *DefaultStepExecutionAggregator {
	return &DefaultStepExecutionAggregator{}
}

// Aggregate implements port.StepExecutionAggregator.
func (a *DefaultStepExecutionAggregator) Aggregate(ctx context.Context, result *model.StepExecution, children []*model.StepExecution) error {
	if result == nil {
		return exception.NewBatchError("aggregator", "result StepExecution is nil", nil, false, false)
	}
	if len(children) == 0 {
		return exception.NewBatchError("aggregator",
			fmt.Sprintf("no child executions to aggregate into '%s'", result.StepName),
			exception.ErrNoChildExecutions, false, false)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	status := model.BatchStatusCompleted
	exitStatus := result.ExitStatus
	for _, child := range children {
		if child == nil {
			continue
		}
		status = model.MaxStatus(status, child.Status)
		exitStatus = exitStatus.And(child.ExitStatus)
		result.AddCounts(child)
	}
	result.Status = status
	result.ExitStatus = exitStatus
	return nil
}

// RemoteStepExecutionAggregator re-reads every child from the JobRepository by ID before
// delegating. Used when the children ran in other processes.
type RemoteStepExecutionAggregator struct {
	jobRepository repository.JobRepository
	delegate      port.StepExecutionAggregator
}

var _ port.StepExecutionAggregator = (*RemoteStepExecutionAggregator)(nil)

// NewRemoteStepExecutionAggregator creates a RemoteStepExecutionAggregator. A nil delegate
// means the default aggregator.
func NewRemoteStepExecutionAggregator(jobRepository repository.JobRepository, delegate port.StepExecutionAggregator) *RemoteStepExecutionAggregator {
	if delegate == nil {
		delegate = NewDefaultStepExecutionAggregator()
	}
	return &RemoteStepExecutionAggregator{jobRepository: jobRepository, delegate: delegate}
}

// Aggregate implements port.StepExecutionAggregator.
func (a *RemoteStepExecutionAggregator) Aggregate(ctx context.Context, result *model.StepExecution, children []*model.StepExecution) error {
	if len(children) == 0 {
		return a.delegate.Aggregate(ctx, result, children)
	}
	fresh := make([]*model.StepExecution, 0, len(children))
	for _, child := range children {
		found, err := a.jobRepository.FindStepExecutionByID(ctx, child.ID)
		if err != nil {
			return exception.NewBatchError("aggregator", fmt.Sprintf("failed to reload child StepExecution '%s'", child.ID), err, false, false)
		}
		fresh = append(fresh, found)
	}
	return a.delegate.Aggregate(ctx, result, fresh)
}
