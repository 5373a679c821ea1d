package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveStepExecution implements repository.StepExecution.
func (r *JobRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[se.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", se.ID)
	}
	jrec, ok := r.jobExecutions[se.JobExecutionID]
	if !ok {
		return fmt.Errorf("StepExecution %s refers to unknown JobExecution %s: %w", se.ID, se.JobExecutionID, repository.ErrJobExecutionNotFound)
	}
	r.stepExecutions[se.ID] = &stepRecord{
		seq:           r.next(),
		jobInstanceID: jrec.execution.JobInstanceID,
		execution:     r.detach(se, jrec.execution),
	}
	se.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateStepExecution implements repository.StepExecution. The stored context is replaced
// as well.
func (r *JobRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.stepExecutions[se.ID]
	if !ok {
		return fmt.Errorf("StepExecution with ID %s not found for update: %w", se.ID, repository.ErrStepExecutionNotFound)
	}
	if rec.execution.Version != se.Version {
		return exception.NewOptimisticLockingFailureException("inmemory",
			fmt.Sprintf("StepExecution %s has version %d, stored version is %d", se.ID, se.Version, rec.execution.Version), nil)
	}
	se.Version++
	rec.execution = r.detach(se, rec.execution.JobExecution)
	return nil
}

// UpdateStepExecutionContext implements repository.ExecutionContext.
func (r *JobRepository) UpdateStepExecutionContext(ctx context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.stepExecutions[se.ID]
	if !ok {
		return repository.ErrStepExecutionNotFound
	}
	rec.execution.ExecutionContext = se.ExecutionContext.Copy()
	se.ExecutionContext.ClearDirtyFlag()
	return nil
}

// FindStepExecutionByID implements repository.StepExecution.
func (r *JobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return r.detach(rec.execution, rec.execution.JobExecution), nil
}

// FindLatestStepExecution implements repository.StepExecution.
func (r *JobRepository) FindLatestStepExecution(ctx context.Context, jobInstanceID, stepName string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *stepRecord
	for _, rec := range r.stepExecutions {
		if rec.jobInstanceID == jobInstanceID && rec.execution.StepName == stepName && (latest == nil || rec.seq > latest.seq) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, repository.ErrStepExecutionNotFound
	}
	return r.detach(latest.execution, latest.execution.JobExecution), nil
}

// CountStepExecutions implements repository.StepExecution.
func (r *JobRepository) CountStepExecutions(ctx context.Context, jobInstanceID, stepName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.stepExecutions {
		if rec.jobInstanceID == jobInstanceID && rec.execution.StepName == stepName {
			count++
		}
	}
	return count, nil
}

// FindStepExecutionsByJobExecutionID implements repository.StepExecution.
func (r *JobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.stepsOf(jobExecutionID)
	out := make([]*model.StepExecution, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.detach(rec.execution, rec.execution.JobExecution))
	}
	return out, nil
}

// detach copies se and points the copy at an identity-only JobExecution.
func (r *JobRepository) detach(se *model.StepExecution, owner *model.JobExecution) *model.StepExecution {
	c := se.Clone()
	c.JobExecution = &model.JobExecution{
		ID:            owner.ID,
		JobInstanceID: owner.JobInstanceID,
		JobName:       owner.JobName,
		Parameters:    owner.Parameters,
	}
	return c
}
