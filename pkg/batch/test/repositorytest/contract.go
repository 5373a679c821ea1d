// Package repositorytest runs the behaviour every repository.JobRepository must share
// against a concrete implementation.
package repositorytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/chunkflow/pkg/batch/test"
)

// Run executes the contract tests. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) repository.JobRepository) {
	t.Run("JobInstanceLookup", func(t *testing.T) { jobInstanceLookup(t, newRepo(t)) })
	t.Run("JobExecutionVersioning", func(t *testing.T) { jobExecutionVersioning(t, newRepo(t)) })
	t.Run("StepExecutionRoundTrip", func(t *testing.T) { stepExecutionRoundTrip(t, newRepo(t)) })
	t.Run("StepExecutionVersioning", func(t *testing.T) { stepExecutionVersioning(t, newRepo(t)) })
	t.Run("LatestStepAcrossExecutions", func(t *testing.T) { latestStepAcrossExecutions(t, newRepo(t)) })
	t.Run("ExecutionContextOnly", func(t *testing.T) { executionContextOnly(t, newRepo(t)) })
	t.Run("NotFound", func(t *testing.T) { notFound(t, newRepo(t)) })
}

func jobInstanceLookup(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	params := testutil.NewTestJobParameters(map[string]interface{}{"date": "2026-10-19", "region": "eu"})
	ji := testutil.SaveJobInstance(t, repo, "importJob", params)

	same := testutil.NewTestJobParameters(map[string]interface{}{"region": "eu", "date": "2026-10-19"})
	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "importJob", same)
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)
	assert.Equal(t, ji.ParametersHash, found.ParametersHash)

	other := testutil.NewTestJobParameters(map[string]interface{}{"date": "2026-10-20"})
	_, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "importJob", other)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	byID, err := repo.FindJobInstanceByID(ctx, ji.ID)
	require.NoError(t, err)
	assert.Equal(t, "importJob", byID.JobName)
	date, ok := byID.Parameters.GetString("date")
	assert.True(t, ok)
	assert.Equal(t, "2026-10-19", date)

	testutil.SaveJobInstance(t, repo, "importJob", other)
	count, err := repo.GetJobInstanceCount(ctx, "importJob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func jobExecutionVersioning(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	ji := testutil.SaveJobInstance(t, repo, "job", model.NewJobParameters())
	first := testutil.StartJobExecution(t, repo, ji)

	stale, err := repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)

	first.ExecutionContext.Put("marker", "x")
	first.Finish(model.BatchStatusFailed, model.ExitStatusFailed.AddExitDescription("boom"))
	first.AddFailureException(assert.AnError)
	require.NoError(t, repo.UpdateJobExecution(ctx, first))
	assert.Equal(t, 1, first.Version)
	assert.False(t, first.ExecutionContext.IsDirty())

	stale.Status = model.BatchStatusCompleted
	err = repo.UpdateJobExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	loaded, err := repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, loaded.Status)
	assert.Equal(t, model.ExitCodeFailed, loaded.ExitStatus.ExitCode)
	assert.Equal(t, "boom", loaded.ExitStatus.ExitDescription)
	assert.NotNil(t, loaded.EndTime)
	assert.Len(t, loaded.Failures, 1)
	marker, _ := loaded.ExecutionContext.GetString("marker")
	assert.Equal(t, "x", marker)

	time.Sleep(5 * time.Millisecond)
	second := testutil.StartJobExecution(t, repo, ji)
	latest, err := repo.FindLatestJobExecution(ctx, ji.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	all, err := repo.FindJobExecutionsByJobInstance(ctx, ji.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
}

func stepExecutionRoundTrip(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	je := testutil.NewRunningJob(t, repo, "job")
	se := testutil.SaveStepExecution(t, repo, je, "load")
	se.MarkAsStarted()
	se.Apply(&model.StepContribution{ReadCount: 7, WriteCount: 5, FilterCount: 1, ProcessSkipCount: 1, ExitStatus: model.ExitStatusExecuting})
	se.IncrementCommitCount()
	se.IncrementRollbackCount()
	se.ExecutionContext.Put("reader.read.count", int64(7))
	se.MarkAsCompleted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	require.NoError(t, repo.UpdateStepExecutionContext(ctx, se))

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, "load", loaded.StepName)
	assert.Equal(t, je.ID, loaded.JobExecutionID)
	require.NotNil(t, loaded.JobExecution)
	assert.Equal(t, je.JobInstanceID, loaded.JobInstanceID())
	assert.Equal(t, model.BatchStatusCompleted, loaded.Status)
	assert.Equal(t, int64(7), loaded.ReadCount)
	assert.Equal(t, int64(5), loaded.WriteCount)
	assert.Equal(t, int64(1), loaded.FilterCount)
	assert.Equal(t, int64(1), loaded.ProcessSkipCount)
	assert.Equal(t, int64(1), loaded.CommitCount)
	assert.Equal(t, int64(1), loaded.RollbackCount)
	assert.Equal(t, se.Version, loaded.Version)
	count, ok := loaded.ExecutionContext.GetInt64("reader.read.count")
	assert.True(t, ok)
	assert.Equal(t, int64(7), count)

	time.Sleep(2 * time.Millisecond)
	second := testutil.SaveStepExecution(t, repo, je, "export")
	steps, err := repo.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, se.ID, steps[0].ID)
	assert.Equal(t, second.ID, steps[1].ID)

	withSteps, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Len(t, withSteps.StepExecutions(), 2)
}

func stepExecutionVersioning(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	je := testutil.NewRunningJob(t, repo, "job")
	se := testutil.SaveStepExecution(t, repo, je, "load")

	stale, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	se.MarkAsStarted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 2, se.Version)

	err = repo.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func latestStepAcrossExecutions(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	ji := testutil.SaveJobInstance(t, repo, "job", model.NewJobParameters())

	je1 := testutil.StartJobExecution(t, repo, ji)
	first := testutil.SaveStepExecution(t, repo, je1, "load")
	first.MarkAsFailed(assert.AnError)
	require.NoError(t, repo.UpdateStepExecution(ctx, first))

	time.Sleep(5 * time.Millisecond)
	je2 := testutil.StartJobExecution(t, repo, ji)
	second := testutil.SaveStepExecution(t, repo, je2, "load")
	time.Sleep(2 * time.Millisecond)
	testutil.SaveStepExecution(t, repo, je2, "other")

	latest, err := repo.FindLatestStepExecution(ctx, ji.ID, "load")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, je2.ID, latest.JobExecutionID)

	count, err := repo.CountStepExecutions(ctx, ji.ID, "load")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountStepExecutions(ctx, ji.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func executionContextOnly(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	je := testutil.NewRunningJob(t, repo, "job")
	se := testutil.SaveStepExecution(t, repo, je, "master")

	se.ExecutionContext.Put("SimpleStepExecutionSplitter.GRID_SIZE", int64(4))
	require.True(t, se.ExecutionContext.IsDirty())
	require.NoError(t, repo.UpdateStepExecutionContext(ctx, se))
	assert.False(t, se.ExecutionContext.IsDirty())

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	grid, ok := loaded.ExecutionContext.GetInt("SimpleStepExecutionSplitter.GRID_SIZE")
	assert.True(t, ok)
	assert.Equal(t, 4, grid)
	assert.Equal(t, se.Version, loaded.Version)

	je.ExecutionContext.Put("job.key", "v")
	require.NoError(t, repo.UpdateJobExecutionContext(ctx, je))
	loadedJob, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	v, _ := loadedJob.ExecutionContext.GetString("job.key")
	assert.Equal(t, "v", v)
}

func notFound(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	_, err := repo.FindJobInstanceByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)
	_, err = repo.FindJobExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
	_, err = repo.FindLatestJobExecution(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
	_, err = repo.FindStepExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
	_, err = repo.FindLatestStepExecution(ctx, "missing", "step")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}
