// Package app wires the customer import application and runs one job execution per process.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/example/partitioned-import/internal/importjob"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	step "github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	chunk "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	partition "github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	inframetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/remote"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/chunkflow/pkg/batch/listener"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// New builds the fx application. It launches the configured job on start and shuts down once
// the job has finished, with exit code 1 unless it COMPLETED.
func New(envFilePath string, embeddedConfig config.EmbeddedConfig) *fx.App {
	return fx.New(Options(envFilePath, embeddedConfig))
}

// Options returns every module of the application.
func Options(envFilePath string, embeddedConfig config.EmbeddedConfig) fx.Option {
	return fx.Options(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,

		gormadapter.Module,
		sqlrepo.Module,
		storage.Module,
		local.Module,
		gcs.Module,
		inframetrics.Module,

		step.Module,
		chunk.Module,
		partition.Module,
		remote.SubmitterModule,
		remote.WorkerModule,

		batchlistener.Module,
		usecase.Module,
		importjob.Module,

		fx.Invoke(runJob),
	)
}

func runJob(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, settings importjob.Settings,
	launcher *usecase.SimpleJobLauncher, operator usecase.JobOperator, done *notification.CompletionSignaler) {
	var execution *model.JobExecution

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			params := model.NewJobParameters()
			params.Put("input.prefix", settings.InputPrefix)
			params.Put("business.date", time.Now().UTC().Format("2006-01-02"))

			je, err := launcher.Start(ctx, cfg.Chunkflow.Batch.JobName, params)
			if err != nil {
				return err
			}
			execution = je
			logger.Infof("Launched job '%s' (execution %s).", je.JobName, je.ID)

			go func() {
				<-done.Done()
				code := 0
				if last := done.Last(); last == nil || last.Status != model.BatchStatusCompleted {
					code = 1
				}
				if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Errorf("Shutdown failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if execution == nil {
				return nil
			}
			if _, running := launcher.Active(execution.ID); running {
				logger.Warnf("Stopping job '%s' (execution %s) before shutdown.", execution.JobName, execution.ID)
				return operator.Stop(ctx, execution.ID)
			}
			return nil
		},
	})
}
