package repository

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobInstance stores the logical runs of a job. An instance is identified by the job name
// together with the identifying subset of its parameters, so launching the same pair twice
// resolves to the same instance and becomes a restart.
type JobInstance interface {
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)

	// FindJobInstanceByJobNameAndParameters compares identifying parameters only.
	// It returns ErrJobInstanceNotFound when no instance exists yet.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	GetJobInstanceCount(ctx context.Context, jobName string) (int, error)
}
