package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/remote"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func newWorker(t *testing.T, steps ...port.Step) (*remote.Worker, *inmemory.JobRepository, *httptest.Server) {
	t.Helper()
	repo := inmemory.NewJobRepository()
	w := remote.NewWorker(steps, step.NewSimpleStepExecutor(repo, nil, nil), repo)
	srv := httptest.NewServer(w.Handler())
	t.Cleanup(srv.Close)
	return w, repo, srv
}

func TestSubmit_WorkerRunsChildAndRecordsOutcome(t *testing.T) {
	worker := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		se.ReadCount = 7
		se.WriteCount = 7
		return nil
	}}
	w, repo, srv := newWorker(t, worker)
	ctx := context.Background()

	je := test.NewRunningJob(t, repo, "import")
	child := test.SaveStepExecution(t, repo, je, "load:partition0")

	submitter := remote.NewHTTPSubmitter(srv.URL, time.Second)
	require.NoError(t, submitter.Submit(ctx, worker, child))

	require.Eventually(t, func() bool {
		se, err := repo.FindStepExecutionByID(ctx, child.ID)
		return err == nil && se.Status == model.BatchStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	se, err := repo.FindStepExecutionByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), se.WriteCount)
	assert.Equal(t, 1, worker.Runs())
	require.NoError(t, w.Shutdown(ctx))
}

func TestSubmit_UnknownStepIsRejected(t *testing.T) {
	_, repo, srv := newWorker(t, &test.FuncStep{Name: "load"})
	je := test.NewRunningJob(t, repo, "import")
	child := test.SaveStepExecution(t, repo, je, "other:partition0")

	err := remote.NewHTTPSubmitter(srv.URL, time.Second).Submit(context.Background(), &test.FuncStep{Name: "other"}, child)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	var be *exception.BatchError
	require.ErrorAs(t, err, &be)
	assert.False(t, be.IsRetryable())
}

func TestSubmit_FinishedChildIsNotRunAgain(t *testing.T) {
	worker := &test.FuncStep{Name: "load"}
	_, repo, srv := newWorker(t, worker)
	ctx := context.Background()
	je := test.NewRunningJob(t, repo, "import")
	child := test.SaveStepExecution(t, repo, je, "load:partition0")
	child.MarkAsStarted()
	child.MarkAsCompleted()
	require.NoError(t, repo.UpdateStepExecution(ctx, child))

	err := remote.NewHTTPSubmitter(srv.URL, time.Second).Submit(ctx, worker, child)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Equal(t, 0, worker.Runs())
}

func TestWorker_ShutdownRefusesNewChildren(t *testing.T) {
	release := make(chan struct{})
	worker := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	w, repo, srv := newWorker(t, worker)
	ctx := context.Background()
	je := test.NewRunningJob(t, repo, "import")
	first := test.SaveStepExecution(t, repo, je, "load:partition0")
	second := test.SaveStepExecution(t, repo, je, "load:partition1")

	submitter := remote.NewHTTPSubmitter(srv.URL, time.Second)
	require.NoError(t, submitter.Submit(ctx, worker, first))
	require.Eventually(t, func() bool { return w.Running() == 1 }, 5*time.Second, 10*time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- w.Shutdown(ctx) }()

	require.Eventually(t, func() bool { return !w.Accepting() }, 5*time.Second, 10*time.Millisecond)
	err := submitter.Submit(ctx, worker, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	close(release)
	require.NoError(t, <-shutdownDone)
	assert.Equal(t, 0, w.Running())
}

func TestWorker_ShutdownTimeoutCancelsChildren(t *testing.T) {
	worker := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	w, repo, srv := newWorker(t, worker)
	ctx := context.Background()
	je := test.NewRunningJob(t, repo, "import")
	child := test.SaveStepExecution(t, repo, je, "load:partition0")

	require.NoError(t, remote.NewHTTPSubmitter(srv.URL, time.Second).Submit(ctx, worker, child))
	require.Eventually(t, func() bool { return w.Running() == 1 }, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Shutdown(shutdownCtx), context.DeadlineExceeded)

	se, err := repo.FindStepExecutionByID(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, se.Status.IsFinished())
}

func TestWorker_StopsChildWhenJobIsStopping(t *testing.T) {
	worker := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		for !se.IsTerminateOnly() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
		return exception.NewBatchError("load", "stop requested", exception.ErrJobInterrupted, false, false)
	}}
	repo := inmemory.NewJobRepository()
	w := remote.NewWorker([]port.Step{worker}, step.NewSimpleStepExecutor(repo, nil, nil), repo).
		WithStopPollInterval(10 * time.Millisecond)
	ctx := context.Background()
	je := test.NewRunningJob(t, repo, "import")
	child := test.SaveStepExecution(t, repo, je, "load:partition0")

	require.NoError(t, w.Accept(ctx, remote.SubmitRequest{StepName: "load", StepExecutionID: child.ID, JobExecutionID: je.ID}))
	require.Eventually(t, func() bool { return w.Running() == 1 }, 5*time.Second, 10*time.Millisecond)

	// What the manager records when the master is asked to stop.
	stopping := je.Detached()
	stopping.Status = model.BatchStatusStopping
	require.NoError(t, repo.UpdateJobExecution(ctx, stopping))

	require.Eventually(t, func() bool {
		se, err := repo.FindStepExecutionByID(ctx, child.ID)
		return err == nil && se.Status == model.BatchStatusStopped
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Shutdown(ctx))
}
