package partition

import (
	"context"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// stopPollInterval is how often a running handler checks the master for a stop request.
const stopPollInterval = 100 * time.Millisecond

// TaskExecutorPartitionHandler runs every child with a StepExecutor, dispatched through a
// TaskExecutor. It returns once every child is terminal.
type TaskExecutorPartitionHandler struct {
	workerStep    port.Step
	stepExecutor  port.StepExecutor
	taskExecutor  port.TaskExecutor
	jobRepository repository.JobRepository
	gridSize      int
}

var _ port.PartitionHandler = (*TaskExecutorPartitionHandler)(nil)

// NewTaskExecutorPartitionHandler creates a TaskExecutorPartitionHandler. A nil taskExecutor
// runs children one after another in the caller's goroutine.
func NewTaskExecutorPartitionHandler(workerStep port.Step, stepExecutor port.StepExecutor, taskExecutor port.TaskExecutor, jobRepository repository.JobRepository, gridSize int) *TaskExecutorPartitionHandler {
	if taskExecutor == nil {
		taskExecutor = SyncTaskExecutor{}
	}
	return &TaskExecutorPartitionHandler{
		workerStep:    workerStep,
		stepExecutor:  stepExecutor,
		taskExecutor:  taskExecutor,
		jobRepository: jobRepository,
		gridSize:      gridSize,
	}
}

// Handle implements port.PartitionHandler. A child the TaskExecutor rejects is returned FAILED.
func (h *TaskExecutorPartitionHandler) Handle(ctx context.Context, splitter port.StepExecutionSplitter, master *model.StepExecution) ([]*model.StepExecution, error) {
	children, err := splitter.Split(ctx, master, h.gridSize)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go propagateStop(master, children, done)
	defer close(done)

	results := make([]*model.StepExecution, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		err := h.taskExecutor.Execute(ctx, func(ctx context.Context) {
			defer wg.Done()
			result, execErr := h.stepExecutor.ExecuteStep(ctx, h.workerStep, child)
			if execErr != nil {
				logger.Warnf("PartitionHandler '%s': partition '%s' ended with %s: %v", splitter.StepName(), child.StepName, child.Status, execErr)
			}
			results[i] = result
		})
		if err != nil {
			wg.Done()
			logger.Errorf("PartitionHandler '%s': partition '%s' could not be dispatched: %v", splitter.StepName(), child.StepName, err)
			results[i] = h.reject(ctx, child, err)
		}
	}
	wg.Wait()

	for i, r := range results {
		if r == nil {
			results[i] = children[i]
		}
	}
	return results, nil
}

// reject marks a child that never ran as FAILED and persists it.
func (h *TaskExecutorPartitionHandler) reject(ctx context.Context, child *model.StepExecution, cause error) *model.StepExecution {
	child.MarkAsFailed(fmt.Errorf("partition '%s' was rejected by the task executor: %w", child.StepName, cause))
	child.ExitStatus = child.ExitStatus.Truncated(model.MaxExitDescriptionLength)
	if h.jobRepository != nil {
		if err := h.jobRepository.UpdateStepExecution(ctx, child); err != nil {
			logger.Errorf("PartitionHandler: failed to persist rejected partition '%s': %v", child.StepName, err)
		}
	}
	return child
}

// propagateStop forwards a stop request on master to every child until done is closed.
func propagateStop(master *model.StepExecution, children []*model.StepExecution, done <-chan struct{}) {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if master.IsTerminateOnly() {
				logger.Infof("PartitionHandler: stop requested on '%s', stopping %d partitions.", master.StepName, len(children))
				for _, child := range children {
					child.SetTerminateOnly()
				}
				return
			}
		}
	}
}
