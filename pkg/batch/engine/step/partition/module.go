package partition

import (
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewTaskExecutor returns the TaskExecutor described by cfg: sequential when PoolSize is 0,
// bounded otherwise.
func NewTaskExecutor(cfg *config.BatchConfig) port.TaskExecutor {
	if cfg.Partition.PoolSize <= 0 {
		return SyncTaskExecutor{}
	}
	return NewBoundedTaskExecutor(cfg.Partition.PoolSize, cfg.Partition.QueueCapacity)
}

// FactoryParams are the dependencies of Factory.
type FactoryParams struct {
	fx.In
	BatchConfig    *config.BatchConfig
	JobRepository  repository.JobRepository
	StepExecutor   port.StepExecutor
	TaskExecutor   port.TaskExecutor
	MetricRecorder metrics.MetricRecorder
	Submitter      port.RemoteStepSubmitter `optional:"true"`
}

// Factory builds PartitionSteps with the configured grid size and handler.
type Factory struct {
	p FactoryParams
}

// NewFactory creates a Factory.
func NewFactory(p FactoryParams) *Factory {
	return &Factory{p: p}
}

// NewPartitionStep partitions workerStep with partitioner under the master name name.
func (f *Factory) NewPartitionStep(name string, workerStep port.Step, partitioner port.Partitioner) *PartitionStep {
	cfg := f.p.BatchConfig.Partition
	splitter := NewSimpleStepExecutionSplitter(f.p.JobRepository, name, partitioner, step.StartPolicy{
		StartLimit:           workerStep.StartLimit(),
		AllowStartIfComplete: workerStep.AllowStartIfComplete(),
	})

	var handler port.PartitionHandler
	var aggregator port.StepExecutionAggregator
	if cfg.Handler == config.PartitionHandlerRemote && f.p.Submitter != nil {
		handler = NewRemotePartitionHandler(workerStep, f.p.Submitter, f.p.JobRepository, cfg.GridSize,
			time.Duration(cfg.PollIntervalMillis)*time.Millisecond, time.Duration(cfg.PollTimeoutMillis)*time.Millisecond).
			WithStopTimeout(time.Duration(cfg.StopTimeoutMillis) * time.Millisecond)
		aggregator = NewRemoteStepExecutionAggregator(f.p.JobRepository, nil)
	} else {
		if cfg.Handler == config.PartitionHandlerRemote {
			logger.Warnf("PartitionStep '%s': remote handler configured but no submitter is available; running partitions locally.", name)
		}
		handler = NewTaskExecutorPartitionHandler(workerStep, f.p.StepExecutor, f.p.TaskExecutor, f.p.JobRepository, cfg.GridSize)
		aggregator = NewDefaultStepExecutionAggregator()
	}

	return NewPartitionStep(name, splitter, handler, aggregator).
		WithStartLimit(f.p.BatchConfig.StartLimit).
		WithAllowStartIfComplete(f.p.BatchConfig.AllowStartIfComplete).
		WithMetricRecorder(f.p.MetricRecorder)
}

// Module provides the TaskExecutor and the PartitionStep Factory.
var Module = fx.Options(
	fx.Provide(NewTaskExecutor),
	fx.Provide(NewFactory),
)
