package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	testutil "github.com/tigerroll/chunkflow/pkg/batch/test"
	"github.com/tigerroll/chunkflow/pkg/batch/test/repositorytest"
)

func TestJobRepositoryContract(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.JobRepository {
		return inmemory.NewJobRepository()
	})
}

func TestStoredCopiesAreDetached(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewJobRepository()
	je := testutil.NewRunningJob(t, repo, "job")
	se := testutil.SaveStepExecution(t, repo, je, "load")

	se.ReadCount = 99
	se.ExecutionContext.Put("k", "changed")

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.ReadCount)
	assert.False(t, loaded.ExecutionContext.ContainsKey("k"))

	loaded.WriteCount = 5
	again, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.WriteCount)
}

func TestSaveStepExecutionRequiresJobExecution(t *testing.T) {
	repo := inmemory.NewJobRepository()
	je := testutil.NewRunningJob(t, repo, "job")
	orphan := je.CreateStepExecution("load")
	orphan.JobExecutionID = "unknown"
	err := repo.SaveStepExecution(context.Background(), orphan)
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}
