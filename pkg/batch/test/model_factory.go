package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// NewTestJobParameters creates JobParameters holding params.
func NewTestJobParameters(params map[string]interface{}) model.JobParameters {
	jp := model.NewJobParameters()
	for k, v := range params {
		jp.Put(k, v)
	}
	return jp
}

// SaveJobInstance creates and saves a JobInstance.
func SaveJobInstance(t *testing.T, repo repository.JobRepository, jobName string, params model.JobParameters) *model.JobInstance {
	t.Helper()
	ji, err := model.NewJobInstance(jobName, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(context.Background(), ji))
	return ji
}

// StartJobExecution creates, starts and saves a JobExecution of ji.
func StartJobExecution(t *testing.T, repo repository.JobRepository, ji *model.JobInstance) *model.JobExecution {
	t.Helper()
	je := model.NewJobExecution(ji, ji.Parameters)
	je.MarkAsStarted()
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	return je
}

// NewRunningJob saves a JobInstance of jobName with a started JobExecution.
func NewRunningJob(t *testing.T, repo repository.JobRepository, jobName string) *model.JobExecution {
	t.Helper()
	return StartJobExecution(t, repo, SaveJobInstance(t, repo, jobName, model.NewJobParameters()))
}

// SaveStepExecution creates and saves a StepExecution of je.
func SaveStepExecution(t *testing.T, repo repository.JobRepository, je *model.JobExecution, stepName string) *model.StepExecution {
	t.Helper()
	se := je.CreateStepExecution(stepName)
	require.NoError(t, repo.SaveStepExecution(context.Background(), se))
	return se
}
