package usecase_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	step "github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	inmemory "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	test "github.com/tigerroll/chunkflow/pkg/batch/test"
)

type fixture struct {
	repo     *inmemory.JobRepository
	handler  *step.StepHandler
	launcher *usecase.SimpleJobLauncher
	operator *usecase.DefaultJobOperator
	explorer *usecase.SimpleJobExplorer
}

func newFixture(t *testing.T, jobs func(handler *step.StepHandler) []port.Job) *fixture {
	t.Helper()
	repo := inmemory.NewJobRepository()
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))
	registry, err := job.NewRegistry(jobs(handler)...)
	require.NoError(t, err)
	launcher := usecase.NewSimpleJobLauncher(repo, registry)
	return &fixture{
		repo:     repo,
		handler:  handler,
		launcher: launcher,
		operator: usecase.NewDefaultJobOperator(repo, launcher, job.NewRunIDIncrementer("", repo)),
		explorer: usecase.NewSimpleJobExplorer(repo, registry),
	}
}

func params(kv ...string) model.JobParameters {
	p := model.NewJobParameters()
	for i := 0; i+1 < len(kv); i += 2 {
		p.Put(kv[i], kv[i+1])
	}
	return p
}

func TestLaunch_CompletedInstanceIsNotRelaunched(t *testing.T) {
	ctx := context.Background()
	load := &test.FuncStep{Name: "load"}
	f := newFixture(t, func(h *step.StepHandler) []port.Job {
		return []port.Job{job.NewSimpleJob("import", h, []port.Step{load})}
	})

	je, err := f.launcher.Launch(ctx, "import", params("date", "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	stored, err := f.explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndTime)

	_, err = f.launcher.Launch(ctx, "import", params("date", "2024-01-01"))
	require.ErrorIs(t, err, usecase.ErrJobInstanceAlreadyComplete)
	assert.True(t, exception.IsErrorOfType(err, usecase.JobInstanceAlreadyCompleteException))
	assert.Equal(t, 1, load.Runs())

	other, err := f.launcher.Launch(ctx, "import", params("date", "2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, other.Status)
	assert.NotEqual(t, je.JobInstanceID, other.JobInstanceID)
}

func TestLaunch_UnknownJob(t *testing.T) {
	f := newFixture(t, func(h *step.StepHandler) []port.Job { return nil })
	_, err := f.launcher.Launch(context.Background(), "missing", params())
	assert.ErrorIs(t, err, job.ErrNoSuchJob)
}

func TestRestart_ResumesFailedInstance(t *testing.T) {
	ctx := context.Background()
	extract := &test.FuncStep{Name: "extract", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		je.ExecutionContext.Put("extracted", "in/a.csv")
		return nil
	}}
	var failOnce atomic.Bool
	failOnce.Store(true)
	var seen atomic.Value
	load := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		if v, ok := je.ExecutionContext.GetString("extracted"); ok {
			seen.Store(v)
		}
		if failOnce.CompareAndSwap(true, false) {
			return errors.New("database unavailable")
		}
		return nil
	}}
	f := newFixture(t, func(h *step.StepHandler) []port.Job {
		return []port.Job{job.NewSimpleJob("import", h, []port.Step{extract, load})}
	})

	first, err := f.launcher.Launch(ctx, "import", params("date", "2024-01-01"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, first.Status)

	second, err := f.operator.Restart(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 1, extract.Runs())
	assert.Equal(t, 2, load.Runs())
	assert.Equal(t, "in/a.csv", seen.Load())

	executions, err := f.explorer.GetJobExecutions(ctx, first.JobInstanceID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, second.ID, executions[0].ID)

	last, err := f.explorer.GetLastJobExecution(ctx, first.JobInstanceID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)

	steps, err := f.explorer.GetStepExecutions(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "load", steps[0].StepName)

	_, err = f.operator.Restart(ctx, second.ID)
	assert.ErrorIs(t, err, exception.ErrRestartIntegrity)
}

func TestStop_RunningExecutionThenRestart(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var blocking atomic.Bool
	blocking.Store(true)
	load := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		if !blocking.CompareAndSwap(true, false) {
			return nil
		}
		close(started)
		<-release
		if se.IsTerminateOnly() {
			return exception.ErrJobInterrupted
		}
		return nil
	}}
	f := newFixture(t, func(h *step.StepHandler) []port.Job {
		return []port.Job{job.NewSimpleJob("import", h, []port.Step{load})}
	})

	je, err := f.launcher.Start(ctx, "import", params("date", "2024-01-01"))
	require.NoError(t, err)
	<-started

	_, err = f.launcher.Launch(ctx, "import", params("date", "2024-01-01"))
	require.ErrorIs(t, err, usecase.ErrJobExecutionAlreadyRunning)

	require.NoError(t, f.operator.Stop(ctx, je.ID))
	close(release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.launcher.Wait(waitCtx))

	stored, err := f.explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
	assert.Error(t, f.operator.Stop(ctx, je.ID))

	restarted, err := f.operator.Restart(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, 2, load.Runs())
}

func TestAbandon_BlocksFurtherLaunches(t *testing.T) {
	ctx := context.Background()
	load := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		return errors.New("corrupt input")
	}}
	f := newFixture(t, func(h *step.StepHandler) []port.Job {
		return []port.Job{job.NewSimpleJob("import", h, []port.Step{load})}
	})

	je, err := f.launcher.Launch(ctx, "import", params("date", "2024-01-01"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, je.Status)

	require.NoError(t, f.operator.Abandon(ctx, je.ID))
	require.NoError(t, f.operator.Abandon(ctx, je.ID))

	stored, err := f.explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)

	_, err = f.launcher.Launch(ctx, "import", params("date", "2024-01-01"))
	assert.ErrorIs(t, err, usecase.ErrJobInstanceAlreadyComplete)
	_, err = f.operator.Restart(ctx, je.ID)
	assert.ErrorIs(t, err, exception.ErrRestartIntegrity)
}

func TestAbandon_CompletedIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(h *step.StepHandler) []port.Job {
		return []port.Job{job.NewSimpleJob("import", h, []port.Step{&test.FuncStep{Name: "load"}})}
	})
	je, err := f.launcher.Launch(ctx, "import", params())
	require.NoError(t, err)
	assert.Error(t, f.operator.Abandon(ctx, je.ID))
}

func TestStartNextInstance(t *testing.T) {
	ctx := context.Background()
	load := &test.FuncStep{Name: "load"}
	f := newFixture(t, func(h *step.StepHandler) []port.Job {
		return []port.Job{job.NewSimpleJob("import", h, []port.Step{load})}
	})

	first, err := f.operator.StartNextInstance(ctx, "import", params("source", "in/"))
	require.NoError(t, err)
	second, err := f.operator.StartNextInstance(ctx, "import", params("source", "in/"))
	require.NoError(t, err)

	assert.NotEqual(t, first.JobInstanceID, second.JobInstanceID)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 2, load.Runs())

	instance, err := f.explorer.FindJobInstance(ctx, "import", second.Parameters)
	require.NoError(t, err)
	assert.Equal(t, second.JobInstanceID, instance.ID)

	names, err := f.explorer.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"import"}, names)
}
