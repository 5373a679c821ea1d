// Package importjob defines the customerImport job: every CSV file under an input prefix is
// loaded into the customers table, one partition per file.
package importjob

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	componentitem "github.com/tigerroll/chunkflow/pkg/batch/component/item"
	partitioner "github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	step "github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	chunk "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	partition "github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const (
	JobName        = "customerImport"
	MasterStepName = "importFiles"
	WorkerStepName = "importFile"
)

// ErrInvalidCustomer marks a row that parsed but cannot be imported. It is registered as
// "InvalidCustomerException" so it can be listed under skippable_exceptions.
var ErrInvalidCustomer = errors.New("InvalidCustomerException")

func init() {
	exception.RegisterErrorType("InvalidCustomerException", ErrInvalidCustomer)
}

// Settings is the "import" section of the application configuration.
type Settings struct {
	InputConnection string `yaml:"input_connection"`
	InputBucket     string `yaml:"input_bucket"`
	InputPrefix     string `yaml:"input_prefix"`
	Pattern         string `yaml:"pattern"`
	HeaderLines     int    `yaml:"header_lines"`
}

// LoadSettings reads the "import" section from the same content the batch configuration was
// loaded from, after ${VAR} expansion.
func LoadSettings(cfg *config.Config) (Settings, error) {
	expanded, err := config.NewOsEnvironmentExpander().Expand(cfg.EmbeddedConfig)
	if err != nil {
		return Settings{}, err
	}
	doc := struct {
		Import Settings `yaml:"import"`
	}{Import: Settings{InputConnection: "input", Pattern: "*.csv", HeaderLines: 1}}
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return Settings{}, fmt.Errorf("import settings: %w", err)
	}
	return doc.Import, nil
}

type Params struct {
	fx.In
	Config     *config.Config
	Settings   Settings
	Storage    *storage.Connections
	Databases  *gormadapter.Connections
	Chunks     *chunk.Factory
	Partitions *partition.Factory
	Handler    *step.StepHandler
	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
	Listeners  []port.JobExecutionListener `group:"job_listeners"`
}

type Result struct {
	fx.Out
	Job        port.Job  `group:"jobs"`
	WorkerStep port.Step `group:"worker_steps"`
}

// NewJob assembles customerImport. Customers are written on the job repository's connection,
// so each chunk commit covers both the rows and the checkpoint.
func NewJob(p Params) (Result, error) {
	ctx := context.Background()
	input, err := p.Storage.Get(ctx, p.Settings.InputConnection)
	if err != nil {
		return Result{}, err
	}
	target, err := p.Databases.Get(p.Config.Chunkflow.Infrastructure.JobRepositoryDBRef)
	if err != nil {
		return Result{}, err
	}
	if err := target.DB().AutoMigrate(&Customer{}); err != nil {
		return Result{}, exception.NewBatchError(JobName, "failed to create the customers table", err, false, false)
	}

	worker := step.NewScopedStep(func() port.Step {
		reader := componentitem.NewFlatFileItemReader[Customer](WorkerStepName+".reader", input, p.Settings.InputBucket, "",
			ParseCustomer, componentitem.WithLinesToSkip(p.Settings.HeaderLines))
		writer := componentitem.NewGormItemWriter[*Customer](WorkerStepName+".writer", target.DB(),
			componentitem.WithUpsert([]string{"id"}, "name", "email"))
		return p.Chunks.NewChunkStep(WorkerStepName,
			componentitem.AnyReader[Customer](reader),
			componentitem.AnyWriter[*Customer](writer),
			chunk.WithProcessor(componentitem.AnyProcessor[Customer, *Customer](componentitem.ProcessorFunc[Customer, *Customer](NormalizeCustomer))),
		)
	})

	files := partitioner.NewMultiResourcePartitioner(input, p.Settings.InputBucket, p.Settings.InputPrefix,
		partitioner.WithPattern(p.Settings.Pattern))
	master := p.Partitions.NewPartitionStep(MasterStepName, worker, files)

	logger.Infof("Job '%s': importing %s/%s%s.", JobName, input.Name(), p.Settings.InputPrefix, p.Settings.Pattern)
	j := job.NewSimpleJob(JobName, p.Handler, []port.Step{master},
		job.WithListeners(p.Listeners...),
		job.WithMetrics(p.Recorder, p.Tracer))
	return Result{Job: j, WorkerStep: worker}, nil
}

var Module = fx.Module("customer-import",
	fx.Provide(LoadSettings),
	fx.Provide(NewJob),
)
