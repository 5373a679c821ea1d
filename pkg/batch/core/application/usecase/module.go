package usecase

import (
	"context"

	"go.uber.org/fx"

	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
)

// Module provides the launcher, operator and explorer. The operator derives the parameters of
// StartNextInstance with a RunIDIncrementer on "run.id".
var Module = fx.Options(
	job.Module,
	fx.Provide(
		fx.Annotate(NewSimpleJobLauncher, fx.As(fx.Self()), fx.As(new(JobLauncher))),
		fx.Annotate(NewSimpleJobExplorer, fx.As(new(JobExplorer))),
		fx.Annotate(NewDefaultJobOperator, fx.As(new(JobOperator))),
		fx.Annotate(
			func(repo repository.JobRepository) *job.RunIDIncrementer {
				return job.NewRunIDIncrementer(job.DefaultRunIDKey, repo)
			},
			fx.As(new(job.ParametersIncrementer)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, launcher *SimpleJobLauncher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return launcher.Wait(ctx)
			},
		})
	}),
)
