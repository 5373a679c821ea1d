package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Partitioner divides the input of a step into named slices, each described by a small
// ExecutionContext. Implementations may ignore gridSize.
type Partitioner interface {
	Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error)
}

// PartitionNameProvider is implemented by partitioners whose partition names do not depend on
// anything but gridSize. On restart the splitter then asks only for names and lets every child
// inherit its previous context.
type PartitionNameProvider interface {
	PartitionNames(ctx context.Context, gridSize int) ([]string, error)
}

// StepExecutionSplitter turns a partition plan into child StepExecutions of master.
type StepExecutionSplitter interface {
	// StepName is the name of the partitioned (master) step.
	StepName() string
	// Split returns the children that should run now, sorted by name.
	Split(ctx context.Context, master *model.StepExecution, gridSize int) ([]*model.StepExecution, error)
}

// PartitionHandler runs the children produced by a splitter and returns them once all are
// terminal. Every child that was produced yields exactly one result, including children that
// could not be dispatched.
type PartitionHandler interface {
	Handle(ctx context.Context, splitter StepExecutionSplitter, master *model.StepExecution) ([]*model.StepExecution, error)
}

// StepExecutionAggregator folds the results of the children into the master execution.
type StepExecutionAggregator interface {
	Aggregate(ctx context.Context, result *model.StepExecution, children []*model.StepExecution) error
}

// TaskExecutor runs tasks, possibly concurrently. Execute returns exception.ErrTaskRejected
// (wrapped) when the task cannot be accepted; the task is then never run.
type TaskExecutor interface {
	Execute(ctx context.Context, task func(ctx context.Context)) error
}
