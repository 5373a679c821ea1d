package item

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

const (
	phaseRead    = "read"
	phaseProcess = "process"
	phaseWrite   = "write"
)

func (s *ChunkStep) notifyBeforeChunk(ctx context.Context, se *model.StepExecution) {
	for _, l := range s.listeners.Chunk {
		l.BeforeChunk(ctx, se)
	}
}

func (s *ChunkStep) notifyAfterChunk(ctx context.Context, se *model.StepExecution) {
	for _, l := range s.listeners.Chunk {
		l.AfterChunk(ctx, se)
	}
}

func (s *ChunkStep) notifyAfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	s.metricRecorder.RecordChunkRollback(ctx, s.name)
	for _, l := range s.listeners.Chunk {
		l.AfterChunkError(ctx, se, err)
	}
}

func (s *ChunkStep) notifyReadError(ctx context.Context, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	for _, l := range s.listeners.Read {
		l.OnReadError(ctx, err)
	}
}

func (s *ChunkStep) notifyProcessError(ctx context.Context, item interface{}, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	for _, l := range s.listeners.Process {
		l.OnProcessError(ctx, item, err)
	}
}

func (s *ChunkStep) notifyWriteError(ctx context.Context, items []interface{}, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	for _, l := range s.listeners.Write {
		l.OnWriteError(ctx, items, err)
	}
}

func (s *ChunkStep) notifyRetryRead(ctx context.Context, attempt int, err error) {
	s.metricRecorder.RecordItemRetry(ctx, s.name, phaseRead)
	for _, l := range s.listeners.Retry {
		l.OnRetryRead(ctx, attempt, err)
	}
}

func (s *ChunkStep) notifyRetryProcess(ctx context.Context, item interface{}, attempt int, err error) {
	s.metricRecorder.RecordItemRetry(ctx, s.name, phaseProcess)
	for _, l := range s.listeners.Retry {
		l.OnRetryProcess(ctx, item, attempt, err)
	}
}

func (s *ChunkStep) notifyRetryWrite(ctx context.Context, items []interface{}, attempt int, err error) {
	s.metricRecorder.RecordItemRetry(ctx, s.name, phaseWrite)
	for _, l := range s.listeners.Retry {
		l.OnRetryWrite(ctx, items, attempt, err)
	}
}

func (s *ChunkStep) notifySkipRead(ctx context.Context, err error) {
	s.metricRecorder.RecordItemSkip(ctx, s.name, phaseRead)
	for _, l := range s.listeners.Skip {
		l.OnSkipInRead(ctx, err)
	}
}

func (s *ChunkStep) notifySkipProcess(ctx context.Context, item interface{}, err error) {
	s.metricRecorder.RecordItemSkip(ctx, s.name, phaseProcess)
	for _, l := range s.listeners.Skip {
		l.OnSkipInProcess(ctx, item, err)
	}
}

func (s *ChunkStep) notifySkipWrite(ctx context.Context, item interface{}, err error) {
	s.metricRecorder.RecordItemSkip(ctx, s.name, phaseWrite)
	for _, l := range s.listeners.Skip {
		l.OnSkipInWrite(ctx, item, err)
	}
}
