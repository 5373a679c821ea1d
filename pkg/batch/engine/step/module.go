package step

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// SimpleStepExecutorParams are the dependencies of the step executor.
type SimpleStepExecutorParams struct {
	fx.In
	JobRepository  repository.JobRepository
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// Module provides the StepExecutor and the StepHandler.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func(p SimpleStepExecutorParams) *SimpleStepExecutor {
			return NewSimpleStepExecutor(p.JobRepository, p.MetricRecorder, p.Tracer)
		},
		fx.As(fx.Self()),
		fx.As(new(port.StepExecutor)),
	)),
	fx.Provide(NewStepHandler),
)
