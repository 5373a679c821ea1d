// Package item implements chunk-oriented steps: the read-process-write loop, its transaction
// boundary and the fault-tolerant handling of item failures.
package item

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ChunkStep is a port.Step that processes items in chunks of chunkSize, one transaction per chunk.
type ChunkStep struct {
	name      string
	reader    port.ItemReader[any]
	processor port.ItemProcessor[any, any]
	writer    port.ItemWriter[any]
	chunkSize int

	jobRepository repository.JobRepository
	txManager     tx.TransactionManager

	retryPolicy retry.RetryPolicy
	skipPolicy  skip.SkipPolicy

	listeners port.StepListeners
	streams   []port.ItemStream

	startLimit           int
	allowStartIfComplete bool

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep)(nil)

// Option configures a ChunkStep.
type Option func(*ChunkStep)

// WithChunkSize sets the commit interval. 0 commits only once input is exhausted.
func WithChunkSize(size int) Option {
	return func(s *ChunkStep) { s.chunkSize = size }
}

// WithProcessor sets the item processor. Without one, items are written as read.
func WithProcessor(p port.ItemProcessor[any, any]) Option {
	return func(s *ChunkStep) { s.processor = p }
}

// WithRetryPolicy enables retries of failed reads, processes and writes.
func WithRetryPolicy(p retry.RetryPolicy) Option {
	return func(s *ChunkStep) {
		if p != nil {
			s.retryPolicy = p
		}
	}
}

// WithSkipPolicy enables skipping of failed items.
func WithSkipPolicy(p skip.SkipPolicy) Option {
	return func(s *ChunkStep) {
		if p != nil {
			s.skipPolicy = p
		}
	}
}

// WithListeners registers listeners. Each value is added to every listener list whose
// interface it implements.
func WithListeners(listeners ...interface{}) Option {
	return func(s *ChunkStep) {
		for _, l := range listeners {
			s.listeners.Register(l)
		}
	}
}

// WithStreams registers additional streams opened, updated and closed with the step.
func WithStreams(streams ...port.ItemStream) Option {
	return func(s *ChunkStep) { s.streams = append(s.streams, streams...) }
}

// WithStartLimit sets how many times the step may be started per JobInstance.
func WithStartLimit(limit int) Option {
	return func(s *ChunkStep) { s.startLimit = limit }
}

// WithAllowStartIfComplete lets the step run again after it completed.
func WithAllowStartIfComplete(allow bool) Option {
	return func(s *ChunkStep) { s.allowStartIfComplete = allow }
}

// WithMetrics sets the metric recorder and tracer.
func WithMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) Option {
	return func(s *ChunkStep) {
		if recorder != nil {
			s.metricRecorder = recorder
		}
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewChunkStep creates a ChunkStep. Without retry or skip policies every item failure is fatal.
func NewChunkStep(
	name string,
	reader port.ItemReader[any],
	writer port.ItemWriter[any],
	jobRepository repository.JobRepository,
	txManager tx.TransactionManager,
	opts ...Option,
) *ChunkStep {
	s := &ChunkStep{
		name:           name,
		reader:         reader,
		writer:         writer,
		jobRepository:  jobRepository,
		txManager:      txManager,
		retryPolicy:    retry.NeverRetryPolicy(),
		skipPolicy:     skip.NeverSkipPolicy(),
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	if s.txManager == nil {
		s.txManager = tx.NewResourcelessTransactionManager()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepName implements port.Step.
func (s *ChunkStep) StepName() string { return s.name }

// StartLimit implements port.Step.
func (s *ChunkStep) StartLimit() int { return s.startLimit }

// AllowStartIfComplete implements port.Step.
func (s *ChunkStep) AllowStartIfComplete() bool { return s.allowStartIfComplete }

// StepExecutionListeners returns the step-level listeners, run by the step executor.
func (s *ChunkStep) StepExecutionListeners() []port.StepExecutionListener {
	return s.listeners.Step
}

// Execute runs chunks until input is exhausted, the step is stopped, or a chunk fails fatally.
// Counters of committed chunks are folded into stepExecution as they commit.
func (s *ChunkStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) (err error) {
	logger.Infof("ChunkStep '%s': executing (StepExecution ID: %s, chunk size: %d).", s.name, stepExecution.ID, s.chunkSize)

	streams := s.allStreams()
	opened, openErr := s.openStreams(ctx, streams, stepExecution.ExecutionContext)
	defer func() {
		if closeErr := s.closeStreams(ctx, opened); closeErr != nil {
			logger.Warnf("ChunkStep '%s': failed to close streams: %v", s.name, closeErr)
			if err == nil {
				err = exception.NewBatchError(s.name, "failed to close item streams", closeErr, false, false)
			}
		}
	}()
	if openErr != nil {
		return exception.NewBatchError(s.name, "failed to open item streams", openErr, false, false)
	}

	p := &chunkProcessor{step: s, se: stepExecution, streams: streams}
	for {
		if err := checkInterrupted(ctx, stepExecution); err != nil {
			logger.Infof("ChunkStep '%s': stop requested before chunk %d.", s.name, stepExecution.CommitCount+1)
			return err
		}
		exhausted, err := p.processChunk(ctx)
		if err != nil {
			return err
		}
		if exhausted {
			break
		}
	}

	logger.Infof("ChunkStep '%s': input exhausted. read=%d, write=%d, filter=%d, skip=%d, commit=%d, rollback=%d.",
		s.name, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.FilterCount,
		stepExecution.SkipCount(), stepExecution.CommitCount, stepExecution.RollbackCount)
	return nil
}

// allStreams returns the reader, processor and writer when they are streams, then extra streams.
func (s *ChunkStep) allStreams() []port.ItemStream {
	var streams []port.ItemStream
	seen := make(map[port.ItemStream]bool)
	add := func(c interface{}) {
		if st, ok := c.(port.ItemStream); ok && !seen[st] {
			seen[st] = true
			streams = append(streams, st)
		}
	}
	add(s.reader)
	if s.processor != nil {
		add(s.processor)
	}
	add(s.writer)
	for _, st := range s.streams {
		add(st)
	}
	return streams
}

func (s *ChunkStep) openStreams(ctx context.Context, streams []port.ItemStream, ec *model.ExecutionContext) ([]port.ItemStream, error) {
	opened := make([]port.ItemStream, 0, len(streams))
	for _, st := range streams {
		if err := st.Open(ctx, ec); err != nil {
			return opened, fmt.Errorf("open %T: %w", st, err)
		}
		opened = append(opened, st)
	}
	return opened, nil
}

func (s *ChunkStep) closeStreams(ctx context.Context, streams []port.ItemStream) error {
	var result *multierror.Error
	for i := len(streams) - 1; i >= 0; i-- {
		if err := streams[i].Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %T: %w", streams[i], err))
		}
	}
	return result.ErrorOrNil()
}

// checkInterrupted returns ErrJobInterrupted when a stop was requested or ctx is done.
func checkInterrupted(ctx context.Context, se *model.StepExecution) error {
	if se.IsTerminateOnly() {
		return exception.NewBatchError("step", fmt.Sprintf("StepExecution '%s' was stopped", se.StepName), exception.ErrJobInterrupted, false, false)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return exception.NewBatchError("step", fmt.Sprintf("StepExecution '%s' was interrupted", se.StepName), fmt.Errorf("%w: %w", exception.ErrJobInterrupted, ctxErr), false, false)
	}
	return nil
}
