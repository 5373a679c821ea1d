package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveJobExecution implements repository.JobExecution.
func (r *JobRepository) SaveJobExecution(ctx context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[je.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", je.ID)
	}
	if _, ok := r.jobInstances[je.JobInstanceID]; !ok {
		return fmt.Errorf("JobExecution %s refers to unknown JobInstance %s: %w", je.ID, je.JobInstanceID, repository.ErrJobInstanceNotFound)
	}
	r.jobExecutions[je.ID] = &jobRecord{seq: r.next(), execution: je.Detached()}
	je.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateJobExecution implements repository.JobExecution.
func (r *JobRepository) UpdateJobExecution(ctx context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobExecutions[je.ID]
	if !ok {
		return fmt.Errorf("JobExecution with ID %s not found for update: %w", je.ID, repository.ErrJobExecutionNotFound)
	}
	if rec.execution.Version != je.Version {
		return exception.NewOptimisticLockingFailureException("inmemory",
			fmt.Sprintf("JobExecution %s has version %d, stored version is %d", je.ID, je.Version, rec.execution.Version), nil)
	}
	je.Version++
	rec.execution = je.Detached()
	je.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateJobExecutionContext implements repository.ExecutionContext.
func (r *JobRepository) UpdateJobExecutionContext(ctx context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobExecutions[je.ID]
	if !ok {
		return repository.ErrJobExecutionNotFound
	}
	rec.execution.ExecutionContext = je.ExecutionContext.Copy()
	je.ExecutionContext.ClearDirtyFlag()
	return nil
}

// FindJobExecutionByID implements repository.JobExecution. The step executions of the
// execution are attached in start order.
func (r *JobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.load(rec), nil
}

// FindLatestJobExecution implements repository.JobExecution.
func (r *JobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *jobRecord
	for _, rec := range r.jobExecutions {
		if rec.execution.JobInstanceID == jobInstanceID && (latest == nil || rec.seq > latest.seq) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.load(latest), nil
}

// FindJobExecutionsByJobInstance implements repository.JobExecution.
func (r *JobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var recs []*jobRecord
	for _, rec := range r.jobExecutions {
		if rec.execution.JobInstanceID == jobInstanceID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })

	out := make([]*model.JobExecution, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.load(rec))
	}
	return out, nil
}

// load copies rec and attaches copies of its step executions. Callers hold r.mu.
func (r *JobRepository) load(rec *jobRecord) *model.JobExecution {
	je := rec.execution.Detached()
	for _, srec := range r.stepsOf(je.ID) {
		se := srec.execution.Clone()
		se.JobExecution = je
		je.AddStepExecution(se)
	}
	return je
}

func (r *JobRepository) stepsOf(jobExecutionID string) []*stepRecord {
	var recs []*stepRecord
	for _, rec := range r.stepExecutions {
		if rec.execution.JobExecutionID == jobExecutionID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	return recs
}
