// Package partition runs a step as many concurrent child executions and reduces their results
// into the master execution.
package partition

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PartitionStep is the master step of a partitioned step. Its own execution only splits,
// dispatches and aggregates; the work is done by the children.
type PartitionStep struct {
	name                 string
	splitter             port.StepExecutionSplitter
	handler              port.PartitionHandler
	aggregator           port.StepExecutionAggregator
	listeners            []port.StepExecutionListener
	startLimit           int
	allowStartIfComplete bool
	recorder             metrics.MetricRecorder
}

var _ port.Step = (*PartitionStep)(nil)

// NewPartitionStep creates a PartitionStep. A nil aggregator means the default aggregator.
func NewPartitionStep(name string, splitter port.StepExecutionSplitter, handler port.PartitionHandler, aggregator port.StepExecutionAggregator) *PartitionStep {
	if aggregator == nil {
		aggregator = NewDefaultStepExecutionAggregator()
	}
	return &PartitionStep{
		name:       name,
		splitter:   splitter,
		handler:    handler,
		aggregator: aggregator,
		recorder:   metrics.NewNoOpMetricRecorder(),
	}
}

// WithListeners registers StepExecutionListeners for the master execution.
func (s *PartitionStep) WithListeners(listeners ...port.StepExecutionListener) *PartitionStep {
	s.listeners = append(s.listeners, listeners...)
	return s
}

// WithStartLimit sets the start limit of the master step.
func (s *PartitionStep) WithStartLimit(limit int) *PartitionStep {
	s.startLimit = limit
	return s
}

// WithAllowStartIfComplete lets the master step run again after it completed.
func (s *PartitionStep) WithAllowStartIfComplete(allow bool) *PartitionStep {
	s.allowStartIfComplete = allow
	return s
}

// WithMetricRecorder sets the recorder for the partition count.
func (s *PartitionStep) WithMetricRecorder(recorder metrics.MetricRecorder) *PartitionStep {
	if recorder != nil {
		s.recorder = recorder
	}
	return s
}

func (s *PartitionStep) StepName() string           { return s.name }
func (s *PartitionStep) StartLimit() int            { return s.startLimit }
func (s *PartitionStep) AllowStartIfComplete() bool { return s.allowStartIfComplete }

// StepExecutionListeners returns the master's listeners.
func (s *PartitionStep) StepExecutionListeners() []port.StepExecutionListener {
	return s.listeners
}

// Execute splits master, runs the children and aggregates them into master. Any aggregated
// status other than COMPLETED is returned as an error.
func (s *PartitionStep) Execute(ctx context.Context, jobExecution *model.JobExecution, master *model.StepExecution) error {
	logger.Infof("PartitionStep '%s': executing (StepExecution ID: %s).", s.name, master.ID)

	children, err := s.handler.Handle(ctx, s.splitter, master)
	if err != nil {
		return exception.NewBatchError(s.name, "partition handler failed", err, false, false)
	}
	s.recorder.RecordPartitions(ctx, s.name, len(children))

	if err := s.aggregator.Aggregate(ctx, master, children); err != nil {
		return exception.NewBatchError(s.name, "failed to aggregate partitions", err, false, false)
	}

	switch master.Status {
	case model.BatchStatusCompleted:
		logger.Infof("PartitionStep '%s': %d partitions completed.", s.name, len(children))
		return nil
	case model.BatchStatusStopped:
		return exception.NewBatchError(s.name, "one or more partitions stopped", exception.ErrJobInterrupted, false, false)
	default:
		failed := 0
		for _, child := range children {
			if child.Status != model.BatchStatusCompleted {
				failed++
			}
		}
		return exception.NewBatchErrorf(s.name, "%d of %d partitions did not complete (aggregated status %s)", failed, len(children), master.Status)
	}
}

// String is used in logs.
func (s *PartitionStep) String() string {
	return fmt.Sprintf("PartitionStep{name=%s}", s.name)
}
