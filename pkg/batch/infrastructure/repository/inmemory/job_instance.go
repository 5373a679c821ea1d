package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// SaveJobInstance implements repository.JobInstance.
func (r *JobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[instance.ID]; exists {
		return fmt.Errorf("JobInstance with ID %s already exists", instance.ID)
	}
	for _, ji := range r.jobInstances {
		if ji.JobName == instance.JobName && ji.ParametersHash == instance.ParametersHash {
			return fmt.Errorf("JobInstance for job '%s' with these parameters already exists (ID: %s)", ji.JobName, ji.ID)
		}
	}
	c := *instance
	r.jobInstances[instance.ID] = &c
	return nil
}

// FindJobInstanceByID implements repository.JobInstance.
func (r *JobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	c := *ji
	return &c, nil
}

// FindJobInstanceByJobNameAndParameters implements repository.JobInstance.
func (r *JobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			c := *ji
			return &c, nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// GetJobInstanceCount implements repository.JobInstance.
func (r *JobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName {
			count++
		}
	}
	return count, nil
}
