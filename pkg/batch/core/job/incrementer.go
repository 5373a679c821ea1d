package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// ParametersIncrementer derives parameters that identify a new JobInstance of jobName.
type ParametersIncrementer interface {
	GetNext(ctx context.Context, jobName string, params model.JobParameters) (model.JobParameters, error)
}

const (
	DefaultRunIDKey     = "run.id"
	DefaultTimestampKey = "timestamp"
)

// RunIDIncrementer puts a run id one above the number of instances of the job, moving past ids
// that are already taken.
type RunIDIncrementer struct {
	key       string
	instances repository.JobInstance
}

func NewRunIDIncrementer(key string, instances repository.JobInstance) *RunIDIncrementer {
	if key == "" {
		key = DefaultRunIDKey
	}
	return &RunIDIncrementer{key: key, instances: instances}
}

func (i *RunIDIncrementer) GetNext(ctx context.Context, jobName string, params model.JobParameters) (model.JobParameters, error) {
	count, err := i.instances.GetJobInstanceCount(ctx, jobName)
	if err != nil {
		return model.JobParameters{}, fmt.Errorf("counting instances of job '%s': %w", jobName, err)
	}
	next := copyParameters(params)
	for id := int64(count) + 1; ; id++ {
		next.Put(i.key, id)
		_, err := i.instances.FindJobInstanceByJobNameAndParameters(ctx, jobName, next)
		if errors.Is(err, repository.ErrJobInstanceNotFound) {
			return next, nil
		}
		if err != nil {
			return model.JobParameters{}, err
		}
	}
}

// TimestampIncrementer puts the current time in Unix milliseconds.
type TimestampIncrementer struct {
	key string
	now func() time.Time
}

func NewTimestampIncrementer(key string) *TimestampIncrementer {
	if key == "" {
		key = DefaultTimestampKey
	}
	return &TimestampIncrementer{key: key, now: time.Now}
}

func (i *TimestampIncrementer) GetNext(ctx context.Context, jobName string, params model.JobParameters) (model.JobParameters, error) {
	next := copyParameters(params)
	next.Put(i.key, i.now().UnixMilli())
	return next, nil
}

func copyParameters(params model.JobParameters) model.JobParameters {
	out := model.NewJobParameters()
	for k, v := range params.Params {
		out.Put(k, v)
	}
	return out
}

var (
	_ ParametersIncrementer = (*RunIDIncrementer)(nil)
	_ ParametersIncrementer = (*TimestampIncrementer)(nil)
)
