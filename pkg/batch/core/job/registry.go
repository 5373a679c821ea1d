package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// ErrNoSuchJob is returned when a job name is not registered.
var ErrNoSuchJob = errors.New("no such job")

// Registry maps job names to jobs. One registry is built per process and handed to whatever
// needs to resolve names.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

// NewRegistry creates a registry holding jobs. Duplicate names are an error.
func NewRegistry(jobs ...port.Job) (*Registry, error) {
	r := &Registry{jobs: make(map[string]port.Job, len(jobs))}
	for _, j := range jobs {
		if err := r.Register(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(j port.Job) error {
	if j == nil {
		return errors.New("cannot register a nil job")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.JobName()]; exists {
		return fmt.Errorf("job '%s' is already registered", j.JobName())
	}
	r.jobs[j.JobName()] = j
	return nil
}

func (r *Registry) Get(name string) (port.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNoSuchJob, name)
	}
	return j, nil
}

// Names returns the registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryParams collects the jobs contributed to the "jobs" group.
type RegistryParams struct {
	fx.In
	Jobs []port.Job `group:"jobs"`
}

// Module provides the Registry. Applications contribute jobs with
// fx.ResultTags(`group:"jobs"`).
var Module = fx.Module("job",
	fx.Provide(func(p RegistryParams) (*Registry, error) {
		return NewRegistry(p.Jobs...)
	}),
)
