package sql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func encodeParameters(p model.JobParameters) (string, error) {
	v, err := p.Value()
	if err != nil {
		return "", fmt.Errorf("encode job parameters: %w", err)
	}
	return v.(string), nil
}

func decodeParameters(s string) (model.JobParameters, error) {
	var p model.JobParameters
	if err := p.Scan(s); err != nil {
		return model.JobParameters{}, err
	}
	return p, nil
}

func encodeFailures(f model.FailureList) (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", fmt.Errorf("encode failures: %w", err)
	}
	return v.(string), nil
}

func decodeFailures(s string) (model.FailureList, error) {
	var f model.FailureList
	if err := f.Scan(s); err != nil {
		return nil, err
	}
	return f, nil
}

func encodeContext(ec *model.ExecutionContext) (string, error) {
	data, err := json.Marshal(ec)
	if err != nil {
		return "", fmt.Errorf("encode execution context: %w", err)
	}
	return string(data), nil
}

func decodeContext(s string) (*model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	if s == "" {
		return ec, nil
	}
	if err := json.Unmarshal([]byte(s), ec); err != nil {
		return nil, fmt.Errorf("decode execution context: %w", err)
	}
	ec.ClearDirtyFlag()
	return ec, nil
}

func fromJobInstance(ji *model.JobInstance) (*JobInstanceEntity, error) {
	params, err := encodeParameters(ji.Parameters)
	if err != nil {
		return nil, err
	}
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     params,
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}, nil
}

func toJobInstance(e *JobInstanceEntity) (*model.JobInstance, error) {
	params, err := decodeParameters(e.Parameters)
	if err != nil {
		return nil, err
	}
	return &model.JobInstance{
		ID:             e.ID,
		JobName:        e.JobName,
		Parameters:     params,
		ParametersHash: e.ParametersHash,
		CreateTime:     e.CreateTime,
		Version:        e.Version,
	}, nil
}

func fromJobExecution(je *model.JobExecution) (*JobExecutionEntity, error) {
	params, err := encodeParameters(je.Parameters)
	if err != nil {
		return nil, err
	}
	failures, err := encodeFailures(je.Failures)
	if err != nil {
		return nil, err
	}
	ec, err := encodeContext(je.ExecutionContext)
	if err != nil {
		return nil, err
	}
	exit := je.ExitStatus.Truncated(model.MaxExitDescriptionLength)
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       params,
		Status:           string(je.Status),
		ExitCode:         exit.ExitCode,
		ExitDescription:  exit.ExitDescription,
		StartTime:        timePtr(je.StartTime),
		EndTime:          je.EndTime,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Failures:         failures,
		ExecutionContext: ec,
		Version:          je.Version,
	}, nil
}

func toJobExecution(e *JobExecutionEntity) (*model.JobExecution, error) {
	params, err := decodeParameters(e.Parameters)
	if err != nil {
		return nil, err
	}
	failures, err := decodeFailures(e.Failures)
	if err != nil {
		return nil, err
	}
	ec, err := decodeContext(e.ExecutionContext)
	if err != nil {
		return nil, err
	}
	return &model.JobExecution{
		ID:               e.ID,
		JobInstanceID:    e.JobInstanceID,
		JobName:          e.JobName,
		Parameters:       params,
		Status:           model.ParseBatchStatus(e.Status),
		ExitStatus:       model.NewExitStatus(e.ExitCode, e.ExitDescription),
		StartTime:        timeValue(e.StartTime),
		EndTime:          e.EndTime,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
		Failures:         failures,
		ExecutionContext: ec,
		Version:          e.Version,
	}, nil
}

func fromStepExecution(se *model.StepExecution) (*StepExecutionEntity, error) {
	failures, err := encodeFailures(se.Failures)
	if err != nil {
		return nil, err
	}
	ec, err := encodeContext(se.ExecutionContext)
	if err != nil {
		return nil, err
	}
	exit := se.ExitStatus.Truncated(model.MaxExitDescriptionLength)
	return &StepExecutionEntity{
		ID:               se.ID,
		JobExecutionID:   se.JobExecutionID,
		StepName:         se.StepName,
		Status:           string(se.Status),
		ExitCode:         exit.ExitCode,
		ExitDescription:  exit.ExitDescription,
		StartTime:        timePtr(se.StartTime),
		EndTime:          se.EndTime,
		LastUpdated:      se.LastUpdated,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		FilterCount:      se.FilterCount,
		ReadSkipCount:    se.ReadSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		Failures:         failures,
		ExecutionContext: ec,
		Version:          se.Version,
	}, nil
}

// toStepExecution maps a row; owner is the identity-only JobExecution it belongs to.
func toStepExecution(e *StepExecutionEntity, owner *model.JobExecution) (*model.StepExecution, error) {
	failures, err := decodeFailures(e.Failures)
	if err != nil {
		return nil, err
	}
	ec, err := decodeContext(e.ExecutionContext)
	if err != nil {
		return nil, err
	}
	se := model.NewStepExecution(e.ID, owner, e.StepName)
	se.JobExecutionID = e.JobExecutionID
	se.Status = model.ParseBatchStatus(e.Status)
	se.ExitStatus = model.NewExitStatus(e.ExitCode, e.ExitDescription)
	se.StartTime = timeValue(e.StartTime)
	se.EndTime = e.EndTime
	se.LastUpdated = e.LastUpdated
	se.ReadCount = e.ReadCount
	se.WriteCount = e.WriteCount
	se.CommitCount = e.CommitCount
	se.RollbackCount = e.RollbackCount
	se.FilterCount = e.FilterCount
	se.ReadSkipCount = e.ReadSkipCount
	se.ProcessSkipCount = e.ProcessSkipCount
	se.WriteSkipCount = e.WriteSkipCount
	se.Failures = failures
	se.ExecutionContext = ec
	se.Version = e.Version
	return se, nil
}

// stepColumns are the columns written by UpdateStepExecution.
func stepColumns(e *StepExecutionEntity, version int) map[string]interface{} {
	return map[string]interface{}{
		"status":             e.Status,
		"exit_code":          e.ExitCode,
		"exit_description":   e.ExitDescription,
		"start_time":         e.StartTime,
		"end_time":           e.EndTime,
		"last_updated":       e.LastUpdated,
		"read_count":         e.ReadCount,
		"write_count":        e.WriteCount,
		"commit_count":       e.CommitCount,
		"rollback_count":     e.RollbackCount,
		"filter_count":       e.FilterCount,
		"read_skip_count":    e.ReadSkipCount,
		"process_skip_count": e.ProcessSkipCount,
		"write_skip_count":   e.WriteSkipCount,
		"failures":           e.Failures,
		"execution_context":  e.ExecutionContext,
		"version":            version,
	}
}

// jobColumns are the columns written by UpdateJobExecution.
func jobColumns(e *JobExecutionEntity, version int) map[string]interface{} {
	return map[string]interface{}{
		"status":            e.Status,
		"exit_code":         e.ExitCode,
		"exit_description":  e.ExitDescription,
		"start_time":        e.StartTime,
		"end_time":          e.EndTime,
		"last_updated":      e.LastUpdated,
		"failures":          e.Failures,
		"execution_context": e.ExecutionContext,
		"version":           version,
	}
}
