package item

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// chunk is the in-flight state of one chunk. contribution and skipNotices stay pending until
// the chunk's first commit.
type chunk struct {
	inputs       []any
	outputs      []any
	contribution *model.StepContribution
	skipNotices  []func(ctx context.Context)
	exhausted    bool
}

// chunkProcessor runs chunks of a ChunkStep against one StepExecution.
type chunkProcessor struct {
	step    *ChunkStep
	se      *model.StepExecution
	streams []port.ItemStream
}

func (p *chunkProcessor) faults() faultPolicy {
	return faultPolicy{retry: p.step.retryPolicy, skip: p.step.skipPolicy}
}

// skipCount counts committed skips plus the ones pending in c.
func (p *chunkProcessor) skipCount(c *chunk) int64 {
	return p.se.SkipCount() + c.contribution.SkipCount()
}

// processChunk runs one chunk and reports whether the input is exhausted.
func (p *chunkProcessor) processChunk(ctx context.Context) (bool, error) {
	s, se := p.step, p.se
	ctx, end := s.tracer.StartChunkSpan(ctx, se, se.CommitCount+1)
	defer end()

	c := &chunk{contribution: se.CreateStepContribution()}
	t, txCtx, err := p.begin(ctx)
	if err != nil {
		return false, err
	}

	if err := p.read(txCtx, c); err != nil {
		return false, p.abort(ctx, t, c, err)
	}
	if err := p.process(txCtx, c); err != nil {
		return false, p.abort(ctx, t, c, err)
	}

	if len(c.outputs) == 0 {
		if len(c.inputs) == 0 && c.contribution.SkipCount() == 0 {
			// Nothing to checkpoint.
			if err := s.txManager.Commit(ctx, t); err != nil {
				return false, exception.NewBatchError(s.name, "failed to commit empty chunk", err, false, false)
			}
			return c.exhausted, nil
		}
		return c.exhausted, p.commit(ctx, t, c.contribution, c.skipNotices)
	}
	return c.exhausted, p.write(ctx, t, txCtx, c)
}

// begin opens a chunk transaction and returns it with a context carrying it.
func (p *chunkProcessor) begin(ctx context.Context) (tx.Tx, context.Context, error) {
	t, err := p.step.txManager.Begin(ctx)
	if err != nil {
		return nil, nil, exception.NewBatchError(p.step.name, "failed to begin chunk transaction", err, false, false)
	}
	txCtx := tx.WithTx(ctx, t)
	p.step.notifyBeforeChunk(txCtx, p.se)
	return t, txCtx, nil
}

// read fills c.inputs up to the chunk size or until the reader is exhausted.
func (p *chunkProcessor) read(ctx context.Context, c *chunk) error {
	size := p.step.chunkSize
	for size <= 0 || len(c.inputs) < size {
		if err := checkInterrupted(ctx, p.se); err != nil {
			return err
		}
		item, ok, err := p.readItem(ctx, c)
		if errors.Is(err, port.ErrNoMoreItems) {
			c.exhausted = true
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			c.inputs = append(c.inputs, item)
		}
	}
	return nil
}

// readItem reads one item, retrying rereadable failures and skipping the rest per policy. ok is
// false for a skipped read.
func (p *chunkProcessor) readItem(ctx context.Context, c *chunk) (any, bool, error) {
	s := p.step
	for attempt := 1; ; attempt++ {
		item, err := s.reader.Read(ctx)
		if err == nil {
			c.contribution.IncrementReadCount()
			s.metricRecorder.RecordItemRead(ctx, s.name)
			return item, true, nil
		}
		if errors.Is(err, port.ErrNoMoreItems) {
			return nil, false, err
		}

		s.notifyReadError(ctx, err)
		var decision exception.Classification
		var fatalErr error
		if port.IsRereadable(err) {
			decision, fatalErr = p.faults().decide(err, attempt, p.skipCount(c))
		} else {
			// The record is gone from the reader; retrying would read the next one.
			decision, fatalErr = p.faults().decideWithoutRetry(err, p.skipCount(c))
		}
		switch decision {
		case exception.Retry:
			logger.Warnf("ChunkStep '%s': read failed (attempt %d), retrying: %v", s.name, attempt, err)
			s.notifyRetryRead(ctx, attempt, err)
			if waitErr := p.wait(ctx, attempt); waitErr != nil {
				return nil, false, waitErr
			}
		case exception.Skip:
			logger.Warnf("ChunkStep '%s': skipping failed read: %v", s.name, err)
			c.contribution.IncrementReadSkipCount()
			c.skipNotices = append(c.skipNotices, func(ctx context.Context) { s.notifySkipRead(ctx, err) })
			return nil, false, nil
		default:
			return nil, false, exception.NewBatchError(s.name, "failed to read item", fatalErr, false, false)
		}
	}
}

// process runs the processor over c.inputs. Filtered and skipped items are dropped.
func (p *chunkProcessor) process(ctx context.Context, c *chunk) error {
	s := p.step
	if s.processor == nil {
		c.outputs = append(c.outputs, c.inputs...)
		return nil
	}
	for _, in := range c.inputs {
		out, keep, err := p.processItem(ctx, c, in)
		if err != nil {
			return err
		}
		if keep {
			c.outputs = append(c.outputs, out)
		}
	}
	return nil
}

func (p *chunkProcessor) processItem(ctx context.Context, c *chunk, in any) (any, bool, error) {
	s := p.step
	for attempt := 1; ; attempt++ {
		out, err := s.processor.Process(ctx, in)
		if err == nil {
			s.metricRecorder.RecordItemProcess(ctx, s.name)
			if out == nil {
				c.contribution.IncrementFilterCount()
				s.metricRecorder.RecordItemFilter(ctx, s.name)
				return nil, false, nil
			}
			return out, true, nil
		}

		s.notifyProcessError(ctx, in, err)
		decision, fatalErr := p.faults().decide(err, attempt, p.skipCount(c))
		switch decision {
		case exception.Retry:
			logger.Warnf("ChunkStep '%s': process failed (attempt %d), retrying: %v", s.name, attempt, err)
			s.notifyRetryProcess(ctx, in, attempt, err)
			if waitErr := p.wait(ctx, attempt); waitErr != nil {
				return nil, false, waitErr
			}
		case exception.Skip:
			logger.Warnf("ChunkStep '%s': skipping item that failed processing: %v", s.name, err)
			c.contribution.IncrementProcessSkipCount()
			c.skipNotices = append(c.skipNotices, func(ctx context.Context) { s.notifySkipProcess(ctx, in, err) })
			return nil, false, nil
		default:
			return nil, false, exception.NewBatchError(s.name, "failed to process item", fatalErr, false, false)
		}
	}
}

// write writes c.outputs in transaction t and commits. A retryable failure re-writes the
// whole buffer in a new transaction; a skippable one switches to scanning.
func (p *chunkProcessor) write(ctx context.Context, t tx.Tx, txCtx context.Context, c *chunk) error {
	s := p.step
	for attempt := 1; ; attempt++ {
		err := s.writer.Write(txCtx, t, c.outputs)
		if err == nil {
			c.contribution.IncrementWriteCount(int64(len(c.outputs)))
			s.metricRecorder.RecordItemWrite(ctx, s.name, len(c.outputs))
			return p.commit(ctx, t, c.contribution, c.skipNotices)
		}

		s.notifyWriteError(txCtx, c.outputs, err)
		p.rollback(ctx, t, err)

		decision, fatalErr := p.faults().decide(err, attempt, p.skipCount(c))
		switch decision {
		case exception.Retry:
			logger.Warnf("ChunkStep '%s': write of %d items failed (attempt %d), retrying: %v", s.name, len(c.outputs), attempt, err)
			s.notifyRetryWrite(ctx, c.outputs, attempt, err)
			if waitErr := p.wait(ctx, attempt); waitErr != nil {
				p.foldAborted(c)
				return waitErr
			}
			if intErr := checkInterrupted(ctx, p.se); intErr != nil {
				p.foldAborted(c)
				return intErr
			}
			var beginErr error
			if t, txCtx, beginErr = p.begin(ctx); beginErr != nil {
				p.foldAborted(c)
				return beginErr
			}
		case exception.Skip:
			logger.Warnf("ChunkStep '%s': write of %d items failed, scanning items one by one: %v", s.name, len(c.outputs), err)
			return p.scan(ctx, c)
		default:
			p.foldAborted(c)
			return exception.NewBatchError(s.name, "failed to write chunk", fatalErr, false, false)
		}
	}
}

// scan writes each buffered item in its own transaction to isolate the failing ones. Every
// item that still fails with a skippable error is committed as a write skip.
func (p *chunkProcessor) scan(ctx context.Context, c *chunk) error {
	s := p.step
	for _, item := range c.outputs {
		if err := checkInterrupted(ctx, p.se); err != nil {
			p.foldAborted(c)
			return err
		}
		if err := p.scanItem(ctx, c, item); err != nil {
			p.foldAborted(c)
			return err
		}
	}
	logger.Debugf("ChunkStep '%s': scanned %d items.", s.name, len(c.outputs))
	return nil
}

func (p *chunkProcessor) scanItem(ctx context.Context, c *chunk, item any) error {
	s := p.step
	items := []any{item}
	for attempt := 1; ; attempt++ {
		t, txCtx, err := p.begin(ctx)
		if err != nil {
			return err
		}
		writeErr := s.writer.Write(txCtx, t, items)
		if writeErr == nil {
			s.metricRecorder.RecordItemWrite(ctx, s.name, 1)
			contribution, notices := p.takePending(c)
			contribution.IncrementWriteCount(1)
			return p.commit(ctx, t, contribution, notices)
		}

		s.notifyWriteError(txCtx, items, writeErr)
		p.rollback(ctx, t, writeErr)

		decision, fatalErr := p.faults().decide(writeErr, attempt, p.skipCount(c))
		switch decision {
		case exception.Retry:
			s.notifyRetryWrite(ctx, items, attempt, writeErr)
			if waitErr := p.wait(ctx, attempt); waitErr != nil {
				return waitErr
			}
		case exception.Skip:
			logger.Warnf("ChunkStep '%s': skipping item that failed writing: %v", s.name, writeErr)
			t, _, err := p.begin(ctx)
			if err != nil {
				return err
			}
			contribution, notices := p.takePending(c)
			contribution.IncrementWriteSkipCount()
			notices = append(notices, func(ctx context.Context) { s.notifySkipWrite(ctx, item, writeErr) })
			return p.commit(ctx, t, contribution, notices)
		default:
			return exception.NewBatchError(s.name, "failed to write item", fatalErr, false, false)
		}
	}
}

// takePending hands over the chunk's pending contribution and skip notices, leaving c empty.
func (p *chunkProcessor) takePending(c *chunk) (*model.StepContribution, []func(context.Context)) {
	contribution, notices := c.contribution, c.skipNotices
	c.contribution = p.se.CreateStepContribution()
	c.skipNotices = nil
	return contribution, notices
}

// commit folds contribution into the StepExecution, checkpoints the streams, persists the
// execution and its context inside t and commits t. If persisting or committing fails the
// in-memory state is restored and an ErrCheckpointPersistence error is returned.
func (p *chunkProcessor) commit(ctx context.Context, t tx.Tx, contribution *model.StepContribution, notices []func(context.Context)) error {
	s, se := p.step, p.se
	txCtx := tx.WithTx(ctx, t)
	snapshot := se.Clone()

	se.Apply(contribution)
	se.IncrementCommitCount()

	if err := p.checkpoint(txCtx); err != nil {
		se.CopyStateFrom(snapshot)
		p.rollback(ctx, t, err)
		return exception.NewBatchError(s.name, "failed to persist chunk checkpoint",
			fmt.Errorf("%w: %w", exception.ErrCheckpointPersistence, err), false, false)
	}
	if err := s.txManager.Commit(ctx, t); err != nil {
		se.CopyStateFrom(snapshot)
		se.IncrementRollbackCount()
		s.notifyAfterChunkError(ctx, se, err)
		return exception.NewBatchError(s.name, "failed to commit chunk",
			fmt.Errorf("%w: %w", exception.ErrCheckpointPersistence, err), false, false)
	}

	s.metricRecorder.RecordChunkCommit(ctx, s.name, int(contribution.WriteCount))
	logger.Debugf("ChunkStep '%s': chunk committed (%s).", s.name, contribution)
	for _, notify := range notices {
		notify(ctx)
	}
	s.notifyAfterChunk(ctx, se)
	return nil
}

// checkpoint writes stream state into the ExecutionContext and persists the StepExecution.
func (p *chunkProcessor) checkpoint(ctx context.Context) error {
	for _, st := range p.streams {
		if err := st.Update(ctx, p.se.ExecutionContext); err != nil {
			return fmt.Errorf("update %T: %w", st, err)
		}
	}
	if p.step.jobRepository == nil {
		return nil
	}
	if err := p.step.jobRepository.UpdateStepExecution(ctx, p.se); err != nil {
		return err
	}
	return p.step.jobRepository.UpdateStepExecutionContext(ctx, p.se)
}

// rollback rolls t back and records it.
func (p *chunkProcessor) rollback(ctx context.Context, t tx.Tx, cause error) {
	s := p.step
	if err := s.txManager.Rollback(ctx, t); err != nil {
		logger.Errorf("ChunkStep '%s': rollback failed: %v", s.name, err)
	}
	p.se.IncrementRollbackCount()
	s.notifyAfterChunkError(ctx, p.se, cause)
}

// abort rolls back a chunk that failed fatally.
func (p *chunkProcessor) abort(ctx context.Context, t tx.Tx, c *chunk, cause error) error {
	p.rollback(ctx, t, cause)
	p.foldAborted(c)
	return cause
}

// foldAborted records the reads of an aborted chunk. Nothing else of it is kept.
func (p *chunkProcessor) foldAborted(c *chunk) {
	if c.contribution.ReadCount == 0 {
		return
	}
	reads := p.se.CreateStepContribution()
	reads.ReadCount = c.contribution.ReadCount
	p.se.Apply(reads)
	c.contribution.ReadCount = 0
}

func (p *chunkProcessor) wait(ctx context.Context, attempt int) error {
	if err := p.step.retryPolicy.Backoff().Wait(ctx, attempt); err != nil {
		return exception.NewBatchError(p.step.name, "retry wait interrupted",
			fmt.Errorf("%w: %w", exception.ErrJobInterrupted, err), false, false)
	}
	return nil
}
