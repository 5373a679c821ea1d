package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Notifier reports the outcome of a finished job execution to an external system.
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution)
}
