package notification

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// Module provides the LogNotifier as the Notifier unless the application supplies its own,
// a CompletionSignaler, and contributes both listeners to the "job_listeners" group.
var Module = fx.Module("notification",
	fx.Provide(
		fx.Annotate(NewLogNotifier, fx.As(new(port.Notifier))),
		NewCompletionSignaler,
		fx.Annotate(NewListener,
			fx.As(new(port.JobExecutionListener)),
			fx.ResultTags(`group:"job_listeners"`)),
		fx.Annotate(func(s *CompletionSignaler) *CompletionSignaler { return s },
			fx.As(new(port.JobExecutionListener)),
			fx.ResultTags(`group:"job_listeners"`)),
	),
)
