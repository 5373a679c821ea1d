package item

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// FactoryParams are the dependencies of Factory.
type FactoryParams struct {
	fx.In
	BatchConfig    *config.BatchConfig
	JobRepository  repository.JobRepository
	TxManager      tx.TransactionManager `optional:"true"`
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	// Listeners are registered on every step the factory builds.
	Listeners []port.StepExecutionListener `group:"step_listeners"`
}

// Factory builds ChunkSteps whose chunk size, retry and skip policies come from the batch
// configuration.
type Factory struct {
	cfg           config.BatchConfig
	jobRepository repository.JobRepository
	txManager     tx.TransactionManager
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
	listeners     []interface{}
}

// NewFactory creates a Factory.
func NewFactory(p FactoryParams) *Factory {
	return &Factory{
		cfg:           *p.BatchConfig,
		jobRepository: p.JobRepository,
		txManager:     p.TxManager,
		recorder:      p.MetricRecorder,
		tracer:        p.Tracer,
		listeners:     toAny(p.Listeners),
	}
}

func toAny(listeners []port.StepExecutionListener) []interface{} {
	out := make([]interface{}, len(listeners))
	for i, l := range listeners {
		out[i] = l
	}
	return out
}

// NewChunkStep builds a ChunkStep. opts are applied after the configured defaults.
func (f *Factory) NewChunkStep(name string, reader port.ItemReader[any], writer port.ItemWriter[any], opts ...Option) *ChunkStep {
	defaults := []Option{
		WithChunkSize(f.cfg.ChunkSize),
		WithRetryPolicy(RetryPolicyFromConfig(f.cfg.ItemRetry, f.cfg.ItemSkip)),
		WithSkipPolicy(SkipPolicyFromConfig(f.cfg.ItemSkip)),
		WithStartLimit(f.cfg.StartLimit),
		WithAllowStartIfComplete(f.cfg.AllowStartIfComplete),
		WithMetrics(f.recorder, f.tracer),
		WithListeners(f.listeners...),
	}
	return NewChunkStep(name, reader, writer, f.jobRepository, f.txManager, append(defaults, opts...)...)
}

// RetryPolicyFromConfig builds the retry policy described by cfg.
func RetryPolicyFromConfig(cfg config.ItemRetryConfig, skipCfg config.ItemSkipConfig) retry.RetryPolicy {
	classifier := exception.NewClassifier(cfg.RetryableExceptions, nil, skipCfg.FatalExceptions)
	backoff := retry.NewBackoff(cfg.InitialInterval, cfg.MaxInterval, cfg.Multiplier)
	return retry.NewSimpleRetryPolicy(cfg.MaxAttempts, classifier, backoff)
}

// SkipPolicyFromConfig builds the skip policy described by cfg.
func SkipPolicyFromConfig(cfg config.ItemSkipConfig) skip.SkipPolicy {
	classifier := exception.NewClassifier(nil, cfg.SkippableExceptions, cfg.FatalExceptions)
	return skip.NewLimitCheckingSkipPolicy(cfg.SkipLimit, classifier)
}

// Module provides the ChunkStep Factory.
var Module = fx.Options(
	fx.Provide(NewFactory),
)
