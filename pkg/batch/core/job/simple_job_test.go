package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	step "github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	inmemory "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	test "github.com/tigerroll/chunkflow/pkg/batch/test"
)

type recordingListener struct {
	before, after []model.BatchStatus
}

func (l *recordingListener) BeforeJob(ctx context.Context, je *model.JobExecution) {
	l.before = append(l.before, je.Status)
}

func (l *recordingListener) AfterJob(ctx context.Context, je *model.JobExecution) {
	l.after = append(l.after, je.Status)
}

func newExecution(t *testing.T, repo *inmemory.JobRepository, name string) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	params := model.NewJobParameters()
	params.Put("run", name)
	ji, err := model.NewJobInstance(name, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji, params)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	je.MarkAsStarted()
	return je
}

func TestSimpleJob_RunsStepsInOrder(t *testing.T) {
	repo := inmemory.NewJobRepository()
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))

	var order []string
	record := func(name string) *test.FuncStep {
		return &test.FuncStep{Name: name, Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
			order = append(order, name)
			return nil
		}}
	}
	listener := &recordingListener{}
	j := job.NewSimpleJob("ordered", handler, []port.Step{record("a"), record("b"), record("c")}, job.WithListeners(listener))

	je := newExecution(t, repo, "ordered")
	require.NoError(t, j.Run(context.Background(), je))

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted.ExitCode, je.ExitStatus.ExitCode)
	assert.NotNil(t, je.EndTime)
	assert.Len(t, je.StepExecutions(), 3)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusStarted}, listener.before)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusCompleted}, listener.after)
}

func TestSimpleJob_FailedStepEndsJob(t *testing.T) {
	repo := inmemory.NewJobRepository()
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))

	boom := errors.New("boom")
	failing := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		return boom
	}}
	after := &test.FuncStep{Name: "report"}
	j := job.NewSimpleJob("failing", handler, []port.Step{failing, after})

	je := newExecution(t, repo, "failing")
	err := j.Run(context.Background(), je)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitStatusFailed.ExitCode, je.ExitStatus.ExitCode)
	assert.Equal(t, 0, after.Runs())
	require.Len(t, je.Failures, 1)
	assert.Contains(t, je.Failures[0], "boom")
}

func TestSimpleJob_InterruptedStepStopsJob(t *testing.T) {
	repo := inmemory.NewJobRepository()
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))

	stopping := &test.FuncStep{Name: "load", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		return exception.ErrJobInterrupted
	}}
	after := &test.FuncStep{Name: "report"}
	j := job.NewSimpleJob("stopped", handler, []port.Step{stopping, after})

	je := newExecution(t, repo, "stopped")
	err := j.Run(context.Background(), je)

	require.True(t, exception.IsInterrupted(err))
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitStatusStopped.ExitCode, je.ExitStatus.ExitCode)
	assert.Equal(t, 0, after.Runs())
}

func TestSimpleJob_StopRequestedBetweenSteps(t *testing.T) {
	repo := inmemory.NewJobRepository()
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))

	first := &test.FuncStep{Name: "first", Fn: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		je.Stop()
		return nil
	}}
	second := &test.FuncStep{Name: "second"}
	j := job.NewSimpleJob("stop-between", handler, []port.Step{first, second})

	je := newExecution(t, repo, "stop-between")
	require.NoError(t, j.Run(context.Background(), je))

	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, 1, first.Runs())
	assert.Equal(t, 0, second.Runs())
}

func TestSimpleJob_StoppedBeforeStart(t *testing.T) {
	repo := inmemory.NewJobRepository()
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))
	s := &test.FuncStep{Name: "only"}
	listener := &recordingListener{}
	j := job.NewSimpleJob("early-stop", handler, []port.Step{s}, job.WithListeners(listener))

	je := newExecution(t, repo, "early-stop")
	je.Status = model.BatchStatusStopping
	require.NoError(t, j.Run(context.Background(), je))

	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitStatusNoop.ExitCode, je.ExitStatus.ExitCode)
	assert.Equal(t, 0, s.Runs())
	assert.Empty(t, listener.after)
}

func TestSimpleJob_NoSteps(t *testing.T) {
	repo := inmemory.NewJobRepository()
	j := job.NewSimpleJob("empty", step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil)), nil)

	je := newExecution(t, repo, "empty")
	require.NoError(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusNoop.ExitCode, je.ExitStatus.ExitCode)
}

func TestRegistry(t *testing.T) {
	a := job.NewSimpleJob("b-job", nil, nil)
	b := job.NewSimpleJob("a-job", nil, nil)
	r, err := job.NewRegistry(a, b)
	require.NoError(t, err)

	assert.Equal(t, []string{"a-job", "b-job"}, r.Names())
	got, err := r.Get("b-job")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, job.ErrNoSuchJob)

	assert.Error(t, r.Register(job.NewSimpleJob("a-job", nil, nil)))
	_, err = job.NewRegistry(a, a)
	assert.Error(t, err)
}

func TestRunIDIncrementer(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewJobRepository()
	inc := job.NewRunIDIncrementer("", repo)

	base := model.NewJobParameters()
	base.Put("input", "in/")

	first, err := inc.GetNext(ctx, "import", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Params[job.DefaultRunIDKey])
	_, hasRunID := base.Params[job.DefaultRunIDKey]
	assert.False(t, hasRunID)

	ji, err := model.NewJobInstance("import", first)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))

	// run.id 3 was taken by an instance launched with explicit parameters.
	taken := model.NewJobParameters()
	taken.Put("input", "in/")
	taken.Put(job.DefaultRunIDKey, int64(3))
	ji2, err := model.NewJobInstance("import", taken)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(ctx, ji2))

	next, err := inc.GetNext(ctx, "import", base)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Params[job.DefaultRunIDKey])
}

func TestTimestampIncrementer(t *testing.T) {
	inc := job.NewTimestampIncrementer("")
	next, err := inc.GetNext(context.Background(), "import", model.NewJobParameters())
	require.NoError(t, err)
	v, ok := next.Params[job.DefaultTimestampKey].(int64)
	require.True(t, ok)
	assert.Positive(t, v)
}
