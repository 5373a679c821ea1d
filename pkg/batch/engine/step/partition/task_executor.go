package partition

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SyncTaskExecutor runs every task in the caller's goroutine.
type SyncTaskExecutor struct{}

var _ port.TaskExecutor = SyncTaskExecutor{}

// Execute implements port.TaskExecutor.
func (SyncTaskExecutor) Execute(ctx context.Context, task func(ctx context.Context)) error {
	task(ctx)
	return nil
}

// BoundedTaskExecutor runs tasks in goroutines, at most poolSize at a time.
//
// queueCapacity bounds how many callers may wait for a free worker: a negative value lets
// callers wait without limit, 0 rejects as soon as every worker is busy.
type BoundedTaskExecutor struct {
	sem           *semaphore.Weighted
	poolSize      int
	queueCapacity int
	waiting       atomic.Int64
}

var _ port.TaskExecutor = (*BoundedTaskExecutor)(nil)

// NewBoundedTaskExecutor creates a BoundedTaskExecutor. poolSize below 1 is treated as 1.
func NewBoundedTaskExecutor(poolSize, queueCapacity int) *BoundedTaskExecutor {
	if poolSize < 1 {
		poolSize = 1
	}
	return &BoundedTaskExecutor{
		sem:           semaphore.NewWeighted(int64(poolSize)),
		poolSize:      poolSize,
		queueCapacity: queueCapacity,
	}
}

// Execute implements port.TaskExecutor. It blocks while the task waits in the queue.
func (e *BoundedTaskExecutor) Execute(ctx context.Context, task func(ctx context.Context)) error {
	if !e.sem.TryAcquire(1) {
		if e.queueCapacity >= 0 && e.waiting.Load() >= int64(e.queueCapacity) {
			return fmt.Errorf("%w: all %d workers busy and queue of %d full", exception.ErrTaskRejected, e.poolSize, e.queueCapacity)
		}
		e.waiting.Add(1)
		err := e.sem.Acquire(ctx, 1)
		e.waiting.Add(-1)
		if err != nil {
			return fmt.Errorf("%w: %w", exception.ErrTaskRejected, err)
		}
	}
	go func() {
		defer e.sem.Release(1)
		task(ctx)
	}()
	return nil
}
