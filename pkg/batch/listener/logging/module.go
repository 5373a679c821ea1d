package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// Module contributes JobLogger to the "job_listeners" group and StepLogger to the
// "step_listeners" group.
var Module = fx.Module("logging-listeners",
	fx.Provide(
		fx.Annotate(NewJobLoggerFromConfig,
			fx.As(new(port.JobExecutionListener)),
			fx.ResultTags(`group:"job_listeners"`)),
		fx.Annotate(NewStepLogger,
			fx.As(new(port.StepExecutionListener)),
			fx.ResultTags(`group:"step_listeners"`)),
	),
)
