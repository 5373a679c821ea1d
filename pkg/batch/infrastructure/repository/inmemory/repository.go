// Package inmemory provides a JobRepository that keeps its records in process memory.
// Records are copied on the way in and out, so callers never share state with the store.
// Writes take effect immediately and do not join transactions.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

type stepRecord struct {
	seq           int64
	jobInstanceID string
	execution     *model.StepExecution
}

type jobRecord struct {
	seq       int64
	execution *model.JobExecution
}

// JobRepository is an in-memory repository.JobRepository.
type JobRepository struct {
	mu             sync.RWMutex
	seq            int64
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*jobRecord
	stepExecutions map[string]*stepRecord
}

var _ repository.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates an empty JobRepository.
func NewJobRepository() *JobRepository {
	return &JobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*jobRecord),
		stepExecutions: make(map[string]*stepRecord),
	}
}

func (r *JobRepository) next() int64 {
	r.seq++
	return r.seq
}

// Close implements repository.JobRepository.
func (r *JobRepository) Close() error {
	return nil
}
