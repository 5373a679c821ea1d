package item_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

var (
	errBadRecord = errors.New("bad record")
	errTimeout   = errors.New("upstream timeout")
)

func init() {
	exception.RegisterErrorType("BadRecordException", errBadRecord)
	exception.RegisterErrorType("UpstreamTimeoutException", errTimeout)
	exception.RegisterErrorType("TransientReadException", test.ErrTransient)
}

func names(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = fmt.Sprintf("item%d", i)
	}
	return out
}

type harness struct {
	repo *inmemory.JobRepository
	je   *model.JobExecution
	se   *model.StepExecution
	tm   *test.CountingTxManager
}

func newHarness(t *testing.T) *harness {
	repo := inmemory.NewJobRepository()
	je := test.NewRunningJob(t, repo, "job")
	return &harness{repo: repo, je: je, se: test.SaveStepExecution(t, repo, je, "step"), tm: &test.CountingTxManager{}}
}

func (h *harness) run(s port.Step) (*model.StepExecution, error) {
	return step.NewSimpleStepExecutor(h.repo, nil, nil).ExecuteStep(context.Background(), s, h.se)
}

func skipping(limit int, names ...string) skip.SkipPolicy {
	return skip.NewLimitCheckingSkipPolicy(limit, exception.NewClassifier(nil, names, nil))
}

type skipRecorder struct {
	mu      sync.Mutex
	reads   []error
	process []any
	writes  []any
}

func (r *skipRecorder) OnSkipInRead(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, err)
}

func (r *skipRecorder) OnSkipInProcess(ctx context.Context, item interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.process = append(r.process, item)
}

func (r *skipRecorder) OnSkipInWrite(ctx context.Context, item interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, item)
}

func TestChunkStep_SingleChunk(t *testing.T) {
	h := newHarness(t)
	w := &test.RecordingWriter{}
	s := item.NewChunkStep("step", test.NewListReader("r", names(25)...), w, h.repo, h.tm, item.WithChunkSize(25))

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, model.ExitCodeCompleted, se.ExitStatus.ExitCode)
	assert.Equal(t, int64(25), se.ReadCount)
	assert.Equal(t, int64(25), se.WriteCount)
	assert.Equal(t, int64(0), se.SkipCount())
	assert.Equal(t, int64(1), se.CommitCount)
	assert.Len(t, w.Committed(), 25)
	assert.Equal(t, int64(25), se.ExecutionContext.GetInt64OrDefault("r.read.count", 0))

	stored, err := h.repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
}

func TestChunkStep_ReadFailureWithoutFaultTolerance(t *testing.T) {
	h := newHarness(t)
	r := test.NewListReader("r", names(25)...)
	r.Bad[9] = errors.New("item 10 unreadable")
	w := &test.RecordingWriter{}
	s := item.NewChunkStep("step", r, w, h.repo, h.tm, item.WithChunkSize(25))

	se, err := h.run(s)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitCodeFailed, se.ExitStatus.ExitCode)
	assert.Equal(t, int64(9), se.ReadCount)
	assert.Equal(t, int64(0), se.WriteCount)
	assert.Equal(t, int64(0), se.CommitCount)
	assert.Equal(t, int64(1), se.RollbackCount)
	require.Len(t, se.Failures, 1)
	assert.Contains(t, se.Failures[0], "item 10")
	assert.Empty(t, w.Attempts())
	assert.Empty(t, w.Committed())
}

func TestChunkStep_SkipsUnreadableRecord(t *testing.T) {
	h := newHarness(t)
	r := test.NewListReader("r", names(26)...)
	r.Bad[9] = fmt.Errorf("line 10: %w", errBadRecord)
	w := &test.RecordingWriter{}
	skips := &skipRecorder{}
	s := item.NewChunkStep("step", r, w, h.repo, h.tm,
		item.WithChunkSize(25),
		item.WithSkipPolicy(skipping(20, "BadRecordException")),
		item.WithListeners(skips),
	)

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(25), se.ReadCount)
	assert.Equal(t, int64(25), se.WriteCount)
	assert.Equal(t, int64(1), se.ReadSkipCount)
	assert.NotContains(t, w.Committed(), "item9")
	require.Len(t, skips.reads, 1)
	assert.ErrorIs(t, skips.reads[0], errBadRecord)
}

func TestChunkStep_ConsumedReadFailureIsSkippedNotRetried(t *testing.T) {
	h := newHarness(t)
	r := test.NewListReader("r", names(10)...)
	r.Bad[2] = fmt.Errorf("row 3: %w", errBadRecord)
	w := &test.RecordingWriter{}
	skips := &skipRecorder{}
	retries := retry.NewSimpleRetryPolicy(3, exception.NewClassifier([]string{"BadRecordException"}, nil, nil), nil)
	s := item.NewChunkStep("step", r, w, h.repo, h.tm,
		item.WithChunkSize(10),
		item.WithRetryPolicy(retries),
		item.WithSkipPolicy(skipping(5, "BadRecordException")),
		item.WithListeners(skips),
	)

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(9), se.ReadCount)
	assert.Equal(t, int64(1), se.ReadSkipCount)
	assert.Equal(t, int64(9), se.WriteCount)
	assert.Equal(t, 11, r.Reads(), "ten records and the end-of-input read, no extra attempt")
	require.Len(t, skips.reads, 1)
	assert.ErrorIs(t, skips.reads[0], errBadRecord)

	committed := w.Committed()
	assert.NotContains(t, committed, "item2")
	assert.Contains(t, committed, "item3")
	assert.Len(t, committed, 9)
}

func TestChunkStep_RetriesRereadableReadFailure(t *testing.T) {
	h := newHarness(t)
	r := test.NewListReader("r", names(10)...)
	r.Flaky[4] = 2
	w := &test.RecordingWriter{}
	retries := retry.NewSimpleRetryPolicy(3, exception.NewClassifier([]string{"TransientReadException"}, nil, nil), nil)
	s := item.NewChunkStep("step", r, w, h.repo, h.tm, item.WithChunkSize(10), item.WithRetryPolicy(retries))

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(10), se.ReadCount)
	assert.Equal(t, int64(0), se.SkipCount())
	assert.Equal(t, names(10), w.Committed())
}

func TestChunkStep_ScansChunkOnSkippableWriteFailure(t *testing.T) {
	h := newHarness(t)
	w := &test.RecordingWriter{Fail: test.FailOn("item2", errBadRecord)}
	skips := &skipRecorder{}
	s := item.NewChunkStep("step", test.NewListReader("r", names(25)...), w, h.repo, h.tm,
		item.WithChunkSize(7),
		item.WithSkipPolicy(skipping(25, "BadRecordException")),
		item.WithListeners(skips),
	)

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(25), se.ReadCount)
	assert.Equal(t, int64(24), se.WriteCount)
	assert.Equal(t, int64(1), se.WriteSkipCount)

	committed := w.Committed()
	assert.Len(t, committed, 24)
	assert.NotContains(t, committed, "item2")
	assert.Equal(t, []any{"item2"}, skips.writes)

	// The failed chunk write is followed by one single-item write per buffered item.
	attempts := w.Attempts()
	require.GreaterOrEqual(t, len(attempts), 8)
	assert.Len(t, attempts[0], 7)
	for _, a := range attempts[1:8] {
		assert.Len(t, a, 1)
	}
}

func TestChunkStep_RetriesProcessorUpToLimit(t *testing.T) {
	const attempts = 3
	h := newHarness(t)
	failures := 0
	p := &test.FuncProcessor{Fn: func(ctx context.Context, it any) (any, error) {
		if it == "item1" && failures < attempts-1 {
			failures++
			return nil, errTimeout
		}
		return it, nil
	}}
	w := &test.RecordingWriter{}
	retries := retry.NewSimpleRetryPolicy(attempts, exception.NewClassifier([]string{"UpstreamTimeoutException"}, nil, nil), nil)
	s := item.NewChunkStep("step", test.NewListReader("r", names(3)...), w, h.repo, h.tm,
		item.WithChunkSize(10), item.WithProcessor(p), item.WithRetryPolicy(retries))

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, []any{"item0", "item1", "item2"}, w.Committed())

	calls := 0
	for _, c := range p.Calls() {
		if c == "item1" {
			calls++
		}
	}
	assert.Equal(t, attempts, calls)
}

func TestChunkStep_RetryExhaustedFails(t *testing.T) {
	h := newHarness(t)
	p := &test.FuncProcessor{Fn: func(ctx context.Context, it any) (any, error) {
		return nil, errTimeout
	}}
	retries := retry.NewSimpleRetryPolicy(2, exception.NewClassifier([]string{"UpstreamTimeoutException"}, nil, nil), nil)
	s := item.NewChunkStep("step", test.NewListReader("r", names(1)...), &test.RecordingWriter{}, h.repo, h.tm,
		item.WithProcessor(p), item.WithRetryPolicy(retries))

	se, err := h.run(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrRetryExhausted)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Len(t, p.Calls(), 2)
}

func TestChunkStep_NonRetryableFailsAfterOneAttempt(t *testing.T) {
	h := newHarness(t)
	p := &test.FuncProcessor{Fn: func(ctx context.Context, it any) (any, error) {
		return nil, errBadRecord
	}}
	retries := retry.NewSimpleRetryPolicy(5, exception.NewClassifier([]string{"UpstreamTimeoutException"}, nil, nil), nil)
	s := item.NewChunkStep("step", test.NewListReader("r", names(1)...), &test.RecordingWriter{}, h.repo, h.tm,
		item.WithProcessor(p), item.WithRetryPolicy(retries))

	se, err := h.run(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBadRecord)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Len(t, p.Calls(), 1)
	assert.Equal(t, int64(1), se.ReadCount)
}

func TestChunkStep_CountersAddUp(t *testing.T) {
	h := newHarness(t)
	p := &test.FuncProcessor{Fn: func(ctx context.Context, it any) (any, error) {
		n := it.(int)
		switch {
		case n%5 == 0:
			return nil, nil
		case n == 7:
			return nil, fmt.Errorf("item %d: %w", n, errBadRecord)
		}
		return n, nil
	}}
	w := &test.RecordingWriter{Fail: test.FailOn(13, errBadRecord)}
	s := item.NewChunkStep("step", test.NewListReader("r", test.Ints(20)...), w, h.repo, h.tm,
		item.WithChunkSize(4),
		item.WithProcessor(p),
		item.WithSkipPolicy(skipping(10, "BadRecordException")),
	)

	se, err := h.run(s)
	require.NoError(t, err)
	assert.Equal(t, int64(20), se.ReadCount)
	assert.Equal(t, int64(4), se.FilterCount)
	assert.Equal(t, int64(1), se.ProcessSkipCount)
	assert.Equal(t, int64(1), se.WriteSkipCount)
	assert.Equal(t, int64(14), se.WriteCount)
	assert.Equal(t, se.ReadCount, se.WriteCount+se.FilterCount+se.ProcessSkipCount+se.WriteSkipCount)
	assert.Len(t, w.Committed(), 14)
}

func TestChunkStep_SkipLimitExceeded(t *testing.T) {
	h := newHarness(t)
	r := test.NewListReader("r", names(10)...)
	r.Bad[2] = errBadRecord
	r.Bad[4] = errBadRecord
	s := item.NewChunkStep("step", r, &test.RecordingWriter{}, h.repo, h.tm,
		item.WithChunkSize(10), item.WithSkipPolicy(skipping(1, "BadRecordException")))

	se, err := h.run(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSkipLimitExceeded)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(0), se.WriteCount)
	assert.Equal(t, int64(0), se.ReadSkipCount)
}

func TestChunkStep_RestartResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewJobRepository()
	ji := test.SaveJobInstance(t, repo, "job", model.NewJobParameters())
	w := &test.RecordingWriter{}
	broken := true
	w.Fail = func(items []any) error {
		for _, it := range items {
			if it == "item7" && broken {
				return errors.New("disk full")
			}
		}
		return nil
	}
	build := func() port.Step {
		return item.NewChunkStep("load", test.NewListReader("r", names(12)...), w, repo, nil, item.WithChunkSize(5))
	}
	handler := step.NewStepHandler(repo, step.NewSimpleStepExecutor(repo, nil, nil))

	first, err := handler.HandleStep(ctx, build(), test.StartJobExecution(t, repo, ji))
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Equal(t, int64(5), first.WriteCount)

	broken = false
	second, err := handler.HandleStep(ctx, build(), test.StartJobExecution(t, repo, ji))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, int64(7), second.WriteCount)
	assert.Equal(t, names(12), w.Committed())
}

func TestChunkStep_StopsBeforeNextChunk(t *testing.T) {
	h := newHarness(t)
	w := &test.RecordingWriter{}
	w.Fail = func(items []any) error {
		h.se.SetTerminateOnly()
		return nil
	}
	s := item.NewChunkStep("step", test.NewListReader("r", names(10)...), w, h.repo, h.tm, item.WithChunkSize(3))

	se, err := h.run(s)
	require.Error(t, err)
	assert.True(t, exception.IsInterrupted(err))
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, int64(3), se.WriteCount)
	assert.Len(t, w.Committed(), 3)
}

func TestChunkStep_CommitFailureLeavesUnknown(t *testing.T) {
	h := newHarness(t)
	h.tm.CommitErr = func(n int) error { return errors.New("connection lost") }
	w := &test.RecordingWriter{}
	s := item.NewChunkStep("step", test.NewListReader("r", names(4)...), w, h.repo, h.tm, item.WithChunkSize(2))

	se, err := h.run(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrCheckpointPersistence)
	assert.Equal(t, model.BatchStatusUnknown, se.Status)
	assert.Equal(t, int64(0), se.WriteCount)
	assert.Empty(t, w.Committed())
}
