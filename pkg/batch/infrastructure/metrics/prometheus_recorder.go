package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a MetricRecorder backed by a Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepProcessCount    *prometheus.CounterVec
	stepFilterCount     *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec
	partitionCount      *prometheus.CounterVec

	itemSkipCounter  *prometheus.CounterVec
	itemRetryCounter *prometheus.CounterVec

	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder on a fresh registry that also carries the
// Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewPrometheusRecorderWithRegistry(registry)
}

// NewPrometheusRecorderWithRegistry registers the batch collectors on registry.
func NewPrometheusRecorderWithRegistry(registry *prometheus.Registry) *PrometheusRecorder {
	stepCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"job_name", "step_name"})
	}

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_code"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Job executions by status transition.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_code"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Step executions by status transition.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount:     stepCounter("batch_step_read_total", "Items read by step."),
		stepProcessCount:  stepCounter("batch_step_process_total", "Items processed by step."),
		stepFilterCount:   stepCounter("batch_step_filter_total", "Items filtered by step."),
		stepWriteCount:    stepCounter("batch_step_write_total", "Items written by step."),
		stepCommitCount:   stepCounter("batch_step_commit_total", "Chunk commits by step."),
		stepRollbackCount: stepCounter("batch_step_rollback_total", "Chunk rollbacks by step."),
		partitionCount:    stepCounter("batch_step_partitions_total", "Partitions dispatched by partitioned steps."),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_skip_total",
			Help: "Skipped items by step and phase.",
		}, []string{"job_name", "step_name", "phase"}),
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_retry_total",
			Help: "Item retry attempts by step and phase.",
		}, []string{"job_name", "step_name", "phase"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of named batch operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepProcessCount,
		r.stepFilterCount,
		r.stepWriteCount,
		r.stepCommitCount,
		r.stepRollbackCount,
		r.partitionCount,
		r.itemSkipCounter,
		r.itemRetryCounter,
		r.operationDurationSeconds,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// jobNameOf returns the job name of the step execution bound to ctx, or "" outside a step.
func jobNameOf(ctx context.Context) string {
	if se := port.StepExecutionFromContext(ctx); se != nil && se.JobExecution != nil {
		return se.JobExecution.JobName
	}
	if je := port.JobExecutionFromContext(ctx); je != nil {
		return je.JobName
	}
	return ""
}

func stepJobName(execution *model.StepExecution) string {
	if execution.JobExecution != nil {
		return execution.JobExecution.JobName
	}
	return ""
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, execution.Status.String(), execution.ExitStatus.ExitCode).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(stepJobName(execution), execution.StepName, execution.Status.String()).Inc()
}

// RecordStepEnd observes the step duration. Item totals are not added here because the
// per-item counters already carry them.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	jobName := stepJobName(execution)
	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(jobName, execution.StepName, execution.Status.String(), execution.ExitStatus.ExitCode).Observe(duration)
	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.stepReadCount.WithLabelValues(jobNameOf(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.stepProcessCount.WithLabelValues(jobNameOf(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.stepFilterCount.WithLabelValues(jobNameOf(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.stepWriteCount.WithLabelValues(jobNameOf(ctx), stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName, phase string) {
	r.itemSkipCounter.WithLabelValues(jobNameOf(ctx), stepName, phase).Inc()
}

func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, stepName, phase string) {
	r.itemRetryCounter.WithLabelValues(jobNameOf(ctx), stepName, phase).Inc()
}

func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.stepCommitCount.WithLabelValues(jobNameOf(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.stepRollbackCount.WithLabelValues(jobNameOf(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordPartitions(ctx context.Context, stepName string, count int) {
	r.partitionCount.WithLabelValues(jobNameOf(ctx), stepName).Add(float64(count))
}

// RecordDuration observes duration under the operation label name. Only the "status" tag is
// kept as a label so the series count stays bounded.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name, tags["status"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
