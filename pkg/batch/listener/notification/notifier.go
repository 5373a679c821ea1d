// Package notification sends job completion notices and signals job completion to waiters.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// LogNotifier writes a one-line summary of every finished job to the logger.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) {
	var duration time.Duration
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime)
	}
	message := fmt.Sprintf("Job '%s' (execution %s) finished: status %s, exit %s, duration %s, failures %d.",
		execution.JobName, execution.ID, execution.Status, execution.ExitStatus, duration, len(execution.Failures))
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("%s", message)
	} else {
		logger.Warnf("%s", message)
	}
}

var _ port.Notifier = (*LogNotifier)(nil)

// Listener forwards AfterJob to a Notifier.
type Listener struct {
	notifier port.Notifier
}

func NewListener(notifier port.Notifier) *Listener {
	return &Listener{notifier: notifier}
}

func (l *Listener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

func (l *Listener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	l.notifier.NotifyJobCompletion(ctx, jobExecution)
}

var _ port.JobExecutionListener = (*Listener)(nil)

// CompletionSignaler closes Done when the first job it observes finishes. It lets a process
// that launched a job in the background wait for it.
type CompletionSignaler struct {
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	last *model.JobExecution
}

func NewCompletionSignaler() *CompletionSignaler {
	return &CompletionSignaler{done: make(chan struct{})}
}

// Done is closed after the first AfterJob call.
func (s *CompletionSignaler) Done() <-chan struct{} {
	return s.done
}

// Last returns the execution that closed Done, or nil.
func (s *CompletionSignaler) Last() *model.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *CompletionSignaler) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

func (s *CompletionSignaler) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	s.once.Do(func() {
		s.mu.Lock()
		s.last = jobExecution
		s.mu.Unlock()
		logger.Debugf("Job '%s' (execution %s) completed; signalling waiters.", jobExecution.JobName, jobExecution.ID)
		close(s.done)
	})
}

var _ port.JobExecutionListener = (*CompletionSignaler)(nil)
