package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// AsyncMetricRecorder forwards every call to a delegate recorder on a background worker, so a
// slow backend never stalls a chunk. Events are dropped with a warning when the queue is full.
type AsyncMetricRecorder struct {
	delegate metrics.MetricRecorder
	queue    chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewAsyncMetricRecorder starts the worker. bufferSize <= 0 uses 100.
func NewAsyncMetricRecorder(bufferSize int, delegate metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		delegate: delegate,
		queue:    make(chan func(), bufferSize),
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.queue:
			event()
		case <-r.stopCh:
			remaining := len(r.queue)
			for i := 0; i < remaining; i++ {
				(<-r.queue)()
			}
			logger.Debugf("AsyncMetricRecorder: worker stopped after draining %d events.", remaining)
			return
		}
	}
}

// Close stops the worker after the queued events have been recorded. Events sent after Close
// are dropped.
func (r *AsyncMetricRecorder) Close() {
	r.once.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *AsyncMetricRecorder) send(kind string, event func()) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.queue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: queue full, %s event discarded.", kind)
	}
}

// The delegate runs detached from the caller's cancellation, but still sees its values
// (step execution, span).
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Executions are snapshotted because the engine keeps mutating them after the call returns.

func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	snapshot := execution.Detached()
	ctx = detach(ctx)
	r.send("job start", func() { r.delegate.RecordJobStart(ctx, snapshot) })
}

func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	snapshot := execution.Detached()
	ctx = detach(ctx)
	r.send("job end", func() { r.delegate.RecordJobEnd(ctx, snapshot) })
}

func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	snapshot := execution.Clone()
	ctx = detach(ctx)
	r.send("step start", func() { r.delegate.RecordStepStart(ctx, snapshot) })
}

func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	snapshot := execution.Clone()
	ctx = detach(ctx)
	r.send("step end", func() { r.delegate.RecordStepEnd(ctx, snapshot) })
}

func (r *AsyncMetricRecorder) RecordItemRead(ctx context.Context, stepName string) {
	ctx = detach(ctx)
	r.send("item read", func() { r.delegate.RecordItemRead(ctx, stepName) })
}

func (r *AsyncMetricRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	ctx = detach(ctx)
	r.send("item process", func() { r.delegate.RecordItemProcess(ctx, stepName) })
}

func (r *AsyncMetricRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	ctx = detach(ctx)
	r.send("item filter", func() { r.delegate.RecordItemFilter(ctx, stepName) })
}

func (r *AsyncMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	ctx = detach(ctx)
	r.send("item write", func() { r.delegate.RecordItemWrite(ctx, stepName, count) })
}

func (r *AsyncMetricRecorder) RecordItemSkip(ctx context.Context, stepName, phase string) {
	ctx = detach(ctx)
	r.send("item skip", func() { r.delegate.RecordItemSkip(ctx, stepName, phase) })
}

func (r *AsyncMetricRecorder) RecordItemRetry(ctx context.Context, stepName, phase string) {
	ctx = detach(ctx)
	r.send("item retry", func() { r.delegate.RecordItemRetry(ctx, stepName, phase) })
}

func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	ctx = detach(ctx)
	r.send("chunk commit", func() { r.delegate.RecordChunkCommit(ctx, stepName, count) })
}

func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	ctx = detach(ctx)
	r.send("chunk rollback", func() { r.delegate.RecordChunkRollback(ctx, stepName) })
}

func (r *AsyncMetricRecorder) RecordPartitions(ctx context.Context, stepName string, count int) {
	ctx = detach(ctx)
	r.send("partitions", func() { r.delegate.RecordPartitions(ctx, stepName, count) })
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	ctx = detach(ctx)
	r.send("duration", func() { r.delegate.RecordDuration(ctx, name, duration, copied) })
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
