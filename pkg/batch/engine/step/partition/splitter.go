package partition

import (
	"context"
	"fmt"
	"sort"
	"strings"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GridSizeKey is the master ExecutionContext key holding the grid size of the first run.
const GridSizeKey = "SimpleStepExecutionSplitter.GRID_SIZE"

// SimpleStepExecutionSplitter creates one child StepExecution per partition, named
// "<stepName>:<partitionName>", applying the step restart rules to each child.
type SimpleStepExecutionSplitter struct {
	jobRepository repository.JobRepository
	stepName      string
	partitioner   port.Partitioner
	policy        step.StartPolicy
}

var _ port.StepExecutionSplitter = (*SimpleStepExecutionSplitter)(nil)

// NewSimpleStepExecutionSplitter creates a splitter for the master step stepName. policy
// applies to every child.
func NewSimpleStepExecutionSplitter(jobRepository repository.JobRepository, stepName string, partitioner port.Partitioner, policy step.StartPolicy) *SimpleStepExecutionSplitter {
	return &SimpleStepExecutionSplitter{
		jobRepository: jobRepository,
		stepName:      stepName,
		partitioner:   partitioner,
		policy:        policy,
	}
}

// StepName implements port.StepExecutionSplitter.
func (s *SimpleStepExecutionSplitter) StepName() string { return s.stepName }

// Split implements port.StepExecutionSplitter. On restart the grid size recorded by the first
// run wins over gridSize. Completed children are not returned.
func (s *SimpleStepExecutionSplitter) Split(ctx context.Context, master *model.StepExecution, gridSize int) ([]*model.StepExecution, error) {
	je := master.JobExecution
	if master.ExecutionContext == nil {
		master.ExecutionContext = model.NewExecutionContext()
	}
	recorded, restart := master.ExecutionContext.GetInt(GridSizeKey)
	if restart {
		if recorded != gridSize {
			logger.Infof("Splitter '%s': restart uses recorded grid size %d instead of %d.", s.stepName, recorded, gridSize)
		}
		gridSize = recorded
	} else {
		master.ExecutionContext.Put(GridSizeKey, gridSize)
	}

	plan, err := s.plan(ctx, gridSize, restart)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(plan))
	for name := range plan {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return partitionNameLess(names[i], names[j]) })

	children := make([]*model.StepExecution, 0, len(names))
	for _, name := range names {
		childName := s.stepName + ":" + name
		ok, last, err := step.ShouldStart(ctx, s.jobRepository, je, childName, s.policy)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		child := je.CreateStepExecution(childName)
		if last != nil {
			step.InheritContext(child, last)
		} else if ec := plan[name]; ec != nil {
			child.ExecutionContext = ec.Copy()
		}
		if err := s.jobRepository.SaveStepExecution(ctx, child); err != nil {
			return nil, exception.NewBatchError("splitter", fmt.Sprintf("failed to save child StepExecution '%s'", childName), err, false, false)
		}
		children = append(children, child)
	}

	if err := s.jobRepository.UpdateStepExecutionContext(ctx, master); err != nil {
		return nil, exception.NewBatchError("splitter", fmt.Sprintf("failed to record grid size of step '%s'", s.stepName),
			fmt.Errorf("%w: %w", exception.ErrCheckpointPersistence, err), false, false)
	}
	logger.Infof("Splitter '%s': %d of %d partitions to run (grid size %d).", s.stepName, len(children), len(names), gridSize)
	return children, nil
}

// plan returns the partition contexts. On restart a PartitionNameProvider is asked for names
// only; the children then inherit their previous contexts.
func (s *SimpleStepExecutionSplitter) plan(ctx context.Context, gridSize int, restart bool) (map[string]*model.ExecutionContext, error) {
	if provider, ok := s.partitioner.(port.PartitionNameProvider); ok && restart {
		names, err := provider.PartitionNames(ctx, gridSize)
		if err != nil {
			return nil, exception.NewBatchError("splitter", "failed to get partition names", err, false, false)
		}
		plan := make(map[string]*model.ExecutionContext, len(names))
		for _, name := range names {
			plan[name] = nil
		}
		return plan, nil
	}
	plan, err := s.partitioner.Partition(ctx, gridSize)
	if err != nil {
		return nil, exception.NewBatchError("splitter", "partitioner failed", err, false, false)
	}
	return plan, nil
}

// partitionNameLess orders names by their non-numeric prefix, then by the value of their
// trailing digits, so "partition2" runs before "partition10".
func partitionNameLess(a, b string) bool {
	pa, na := splitIndex(a)
	pb, nb := splitIndex(b)
	if pa != pb || na == "" || nb == "" {
		return a < b
	}
	ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
	if len(ta) != len(tb) {
		return len(ta) < len(tb)
	}
	if ta != tb {
		return ta < tb
	}
	return a < b
}

func splitIndex(name string) (prefix, digits string) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	return name[:i], name[i:]
}
