// Package logging provides listeners that write job, step, chunk and item events to the
// framework logger.
package logging

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

// --- Job Execution Listener ---

// JobLogger logs job boundaries. Parameters named in maskedKeys are logged masked.
type JobLogger struct {
	maskedKeys []string
}

func NewJobLogger(maskedKeys ...string) *JobLogger {
	return &JobLogger{maskedKeys: maskedKeys}
}

// NewJobLoggerFromConfig masks the keys listed under chunkflow.system.logging.masked_parameter_keys.
func NewJobLoggerFromConfig(cfg *config.Config) *JobLogger {
	return NewJobLogger(cfg.Chunkflow.System.Logging.MaskedParameterKeys...)
}

func (l *JobLogger) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	params, err := serialization.MarshalMaskedParameters(jobExecution.Parameters.Params, l.maskedKeys)
	if err != nil {
		params = []byte("<unprintable>")
	}
	logger.Infof("Job '%s' (execution %s): starting with parameters %s.", jobExecution.JobName, jobExecution.ID, params)
}

func (l *JobLogger) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	if jobExecution.Status.IsUnsuccessful() {
		logger.Warnf("Job '%s' (execution %s): finished with status %s, exit status %s, %d failure(s).",
			jobExecution.JobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus, len(jobExecution.Failures))
		return
	}
	logger.Infof("Job '%s' (execution %s): finished with status %s, exit status %s.",
		jobExecution.JobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
}

var _ port.JobExecutionListener = (*JobLogger)(nil)

// --- Step, Chunk and Item Listeners ---

// StepLogger logs step boundaries, chunk outcomes and item level failures, skips and retries.
// Registering it on a step subscribes it to every extension point it implements.
type StepLogger struct{}

func NewStepLogger() *StepLogger {
	return &StepLogger{}
}

func (l *StepLogger) BeforeStep(ctx context.Context, se *model.StepExecution) {
	logger.Infof("Step '%s' (execution %s): before step.", se.StepName, se.ID)
}

func (l *StepLogger) AfterStep(ctx context.Context, se *model.StepExecution) {
	logger.Infof("Step '%s': after step, status %s, exit %s, read=%d write=%d filter=%d skip=%d commit=%d rollback=%d.",
		se.StepName, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
}

func (l *StepLogger) BeforeChunk(ctx context.Context, se *model.StepExecution) {
	logger.Debugf("Step '%s': chunk %d starting.", se.StepName, se.CommitCount+1)
}

func (l *StepLogger) AfterChunk(ctx context.Context, se *model.StepExecution) {
	logger.Debugf("Step '%s': chunk committed, read=%d write=%d.", se.StepName, se.ReadCount, se.WriteCount)
}

func (l *StepLogger) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	logger.Warnf("Step '%s': chunk rolled back: %v", se.StepName, err)
}

func (l *StepLogger) OnReadError(ctx context.Context, err error) {
	logger.Errorf("%s: read failed: %v", stepName(ctx), err)
}

func (l *StepLogger) OnProcessError(ctx context.Context, item interface{}, err error) {
	logger.Errorf("%s: processing %+v failed: %v", stepName(ctx), item, err)
}

func (l *StepLogger) OnWriteError(ctx context.Context, items []interface{}, err error) {
	logger.Errorf("%s: writing %d item(s) failed: %v", stepName(ctx), len(items), err)
}

func (l *StepLogger) OnSkipInRead(ctx context.Context, err error) {
	logger.Warnf("%s: skipped unreadable item: %v", stepName(ctx), err)
}

func (l *StepLogger) OnSkipInProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("%s: skipped item %+v in process: %v", stepName(ctx), item, err)
}

func (l *StepLogger) OnSkipInWrite(ctx context.Context, item interface{}, err error) {
	logger.Warnf("%s: skipped item %+v in write: %v", stepName(ctx), item, err)
}

func (l *StepLogger) OnRetryRead(ctx context.Context, attempt int, err error) {
	logger.Warnf("%s: retrying read (attempt %d): %v", stepName(ctx), attempt, err)
}

func (l *StepLogger) OnRetryProcess(ctx context.Context, item interface{}, attempt int, err error) {
	logger.Warnf("%s: retrying process of %+v (attempt %d): %v", stepName(ctx), item, attempt, err)
}

func (l *StepLogger) OnRetryWrite(ctx context.Context, items []interface{}, attempt int, err error) {
	logger.Warnf("%s: retrying write of %d item(s) (attempt %d): %v", stepName(ctx), len(items), attempt, err)
}

func stepName(ctx context.Context) string {
	if se := port.StepExecutionFromContext(ctx); se != nil {
		return "Step '" + se.StepName + "'"
	}
	return "Step"
}

var (
	_ port.StepExecutionListener = (*StepLogger)(nil)
	_ port.ChunkListener         = (*StepLogger)(nil)
	_ port.ItemReadListener      = (*StepLogger)(nil)
	_ port.ItemProcessListener   = (*StepLogger)(nil)
	_ port.ItemWriteListener     = (*StepLogger)(nil)
	_ port.SkipListener          = (*StepLogger)(nil)
	_ port.RetryItemListener     = (*StepLogger)(nil)
)
