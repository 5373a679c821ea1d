package partition

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// defaultStopTimeout bounds the wait for remote children once a stop was requested.
const defaultStopTimeout = 30 * time.Second

// RemotePartitionHandler hands every child to a RemoteStepSubmitter and polls the
// JobRepository until all children are terminal.
//
// A stop request on the master (or a cancelled ctx) is recorded as STOPPING on the owning
// JobExecution, which remote workers watch. The handler then keeps polling for up to the stop
// timeout. Children that never report back are recorded FAILED on poll timeout and STOPPED on
// stop timeout, so no child is left STARTED in the repository.
type RemotePartitionHandler struct {
	workerStep    port.Step
	submitter     port.RemoteStepSubmitter
	jobRepository repository.JobRepository
	gridSize      int
	pollInterval  time.Duration
	pollTimeout   time.Duration
	stopTimeout   time.Duration
}

var _ port.PartitionHandler = (*RemotePartitionHandler)(nil)

// NewRemotePartitionHandler creates a RemotePartitionHandler. A pollTimeout of 0 waits forever
// unless a stop is requested.
func NewRemotePartitionHandler(workerStep port.Step, submitter port.RemoteStepSubmitter, jobRepository repository.JobRepository, gridSize int, pollInterval, pollTimeout time.Duration) *RemotePartitionHandler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RemotePartitionHandler{
		workerStep:    workerStep,
		submitter:     submitter,
		jobRepository: jobRepository,
		gridSize:      gridSize,
		pollInterval:  pollInterval,
		pollTimeout:   pollTimeout,
		stopTimeout:   defaultStopTimeout,
	}
}

// WithStopTimeout sets how long children may take to stop. Values <= 0 keep the default.
func (h *RemotePartitionHandler) WithStopTimeout(d time.Duration) *RemotePartitionHandler {
	if d > 0 {
		h.stopTimeout = d
	}
	return h
}

// Handle implements port.PartitionHandler. Every child is returned with a terminal status.
func (h *RemotePartitionHandler) Handle(ctx context.Context, splitter port.StepExecutionSplitter, master *model.StepExecution) ([]*model.StepExecution, error) {
	children, err := splitter.Split(ctx, master, h.gridSize)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*model.StepExecution, len(children))
	for _, child := range children {
		if err := h.submitter.Submit(ctx, h.workerStep, child); err != nil {
			logger.Errorf("RemotePartitionHandler '%s': submitting partition '%s' failed: %v", splitter.StepName(), child.StepName, err)
			child.MarkAsFailed(fmt.Errorf("partition '%s' could not be submitted: %w", child.StepName, err))
			results[child.ID] = h.persist(ctx, child)
		}
	}

	h.await(ctx, master, children, results)

	out := make([]*model.StepExecution, 0, len(children))
	for _, child := range children {
		out = append(out, results[child.ID])
	}
	return out, nil
}

// await polls until every child has a terminal result, giving up on the poll or stop timeout.
func (h *RemotePartitionHandler) await(ctx context.Context, master *model.StepExecution, children []*model.StepExecution, results map[string]*model.StepExecution) {
	// Bookkeeping must outlive a cancelled job context.
	repoCtx := context.WithoutCancel(ctx)

	var deadline, stopDeadline <-chan time.Time
	if h.pollTimeout > 0 {
		timer := time.NewTimer(h.pollTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	done := ctx.Done()
	stopping := false
	var stopTimer *time.Timer
	defer func() {
		if stopTimer != nil {
			stopTimer.Stop()
		}
	}()
	beginStop := func(reason string) {
		if stopping {
			return
		}
		stopping = true
		done = nil
		logger.Infof("RemotePartitionHandler: %s on '%s', waiting up to %s for %d partitions to stop.",
			reason, master.StepName, h.stopTimeout, len(children)-len(results))
		h.requestStop(repoCtx, master)
		stopTimer = time.NewTimer(h.stopTimeout)
		stopDeadline = stopTimer.C
	}

	for len(results) < len(children) {
		if !stopping && master.IsTerminateOnly() {
			beginStop("stop requested")
		}
		select {
		case <-done:
			beginStop("job context cancelled")
		case <-deadline:
			h.giveUp(repoCtx, children, results, func(child *model.StepExecution) {
				child.MarkAsFailed(fmt.Errorf("partition '%s' reported no result within %s", child.StepName, h.pollTimeout))
			})
			return
		case <-stopDeadline:
			h.giveUp(repoCtx, children, results, func(child *model.StepExecution) {
				child.MarkAsStopped()
			})
			return
		case <-ticker.C:
			h.poll(repoCtx, children, results)
		}
	}
}

func (h *RemotePartitionHandler) poll(ctx context.Context, children []*model.StepExecution, results map[string]*model.StepExecution) {
	for _, child := range children {
		if _, done := results[child.ID]; done {
			continue
		}
		latest, err := h.jobRepository.FindStepExecutionByID(ctx, child.ID)
		if err != nil {
			logger.Warnf("RemotePartitionHandler: polling partition '%s' failed: %v", child.StepName, err)
			continue
		}
		if latest.Status.IsFinished() {
			logger.Infof("RemotePartitionHandler: partition '%s' finished with %s.", child.StepName, latest.Status)
			results[child.ID] = latest
		}
	}
}

// requestStop records STOPPING on the JobExecution owning master. Workers watch that record.
func (h *RemotePartitionHandler) requestStop(ctx context.Context, master *model.StepExecution) {
	je := master.JobExecution
	if je == nil || je.Status == model.BatchStatusStopping || je.Status.IsFinished() {
		return
	}
	je.Status = model.BatchStatusStopping
	je.LastUpdated = time.Now()
	if err := h.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		logger.Errorf("RemotePartitionHandler: failed to record stop request on JobExecution %s: %v", je.ID, err)
	}
}

// giveUp ends every child without a result with mark, after a last poll.
func (h *RemotePartitionHandler) giveUp(ctx context.Context, children []*model.StepExecution, results map[string]*model.StepExecution, mark func(*model.StepExecution)) {
	h.poll(ctx, children, results)
	for _, child := range children {
		if _, done := results[child.ID]; done {
			continue
		}
		latest, err := h.jobRepository.FindStepExecutionByID(ctx, child.ID)
		if err != nil {
			latest = child
		}
		mark(latest)
		logger.Warnf("RemotePartitionHandler: partition '%s' recorded as %s without a result from its worker.", latest.StepName, latest.Status)
		results[child.ID] = h.persist(ctx, latest)
	}
}

func (h *RemotePartitionHandler) persist(ctx context.Context, child *model.StepExecution) *model.StepExecution {
	child.ExitStatus = child.ExitStatus.Truncated(model.MaxExitDescriptionLength)
	if err := h.jobRepository.UpdateStepExecution(ctx, child); err != nil {
		logger.Errorf("RemotePartitionHandler: failed to persist partition '%s': %v", child.StepName, err)
	}
	return child
}
