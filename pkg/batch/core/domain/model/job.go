package model

import (
	"context"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// JobParameters holds the identifying parameters of a job run.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters creates a new instance of JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// Put sets a parameter.
func (jp JobParameters) Put(key string, value interface{}) {
	jp.Params[key] = value
}

// GetString retrieves the value for key as a string.
func (jp JobParameters) GetString(key string) (string, bool) {
	v, ok := jp.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Hash returns the sha256 of the parameters encoded as JSON. encoding/json sorts map keys,
// so the hash does not depend on insertion order.
func (jp JobParameters) Hash() (string, error) {
	params := jp.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", exception.NewBatchError("model", "failed to encode JobParameters", err, false, false)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Value implements driver.Valuer.
func (jp JobParameters) Value() (driver.Value, error) {
	if jp.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	jp.Params = make(map[string]interface{})
	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &jp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	return nil
}

// JobInstance is the logical run of a job: a job name plus identifying parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a new JobInstance.
func NewJobInstance(jobName string, params JobParameters) (*JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}, nil
}

// JobExecution is one physical attempt to run a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	Status           BatchStatus
	ExitStatus       ExitStatus
	StartTime        time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	Failures         FailureList
	ExecutionContext *ExecutionContext
	Version          int

	// CancelFunc, when set, cancels the context the job runs under.
	CancelFunc context.CancelFunc

	mu             sync.Mutex
	stepExecutions []*StepExecution
	stopRequested  atomic.Bool
}

// NewJobExecution creates a new JobExecution in STARTING state.
func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    instance.ID,
		JobName:          instance.JobName,
		Parameters:       params,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// CreateStepExecution creates a StepExecution for stepName and registers it with je.
func (je *JobExecution) CreateStepExecution(stepName string) *StepExecution {
	se := NewStepExecution(NewID(), je, stepName)
	je.AddStepExecution(se)
	return se
}

// AddStepExecution registers se with je.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.stepExecutions = append(je.stepExecutions, se)
}

// StepExecutions returns the step executions registered so far.
func (je *JobExecution) StepExecutions() []*StepExecution {
	je.mu.Lock()
	defer je.mu.Unlock()
	out := make([]*StepExecution, len(je.stepExecutions))
	copy(out, je.stepExecutions)
	return out
}

// Detached returns a copy of the persisted fields. Step executions and the cancel function
// are not carried over.
func (je *JobExecution) Detached() *JobExecution {
	c := &JobExecution{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		StartTime:        je.StartTime,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Failures:         append(FailureList(nil), je.Failures...),
		ExecutionContext: je.ExecutionContext.Copy(),
		Version:          je.Version,
	}
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	return c
}

// IsRunning reports whether the execution has not reached a terminal state.
func (je *JobExecution) IsRunning() bool {
	return je.EndTime == nil && je.Status.IsRunning()
}

// Stop asks every running step execution to stop at its next check point. It may be called
// from any goroutine; Status is left to the goroutine running the job, which finishes the
// execution as STOPPED once it notices.
func (je *JobExecution) Stop() {
	je.stopRequested.Store(true)
	for _, se := range je.StepExecutions() {
		if !se.IsFinished() {
			se.SetTerminateOnly()
		}
	}
	if je.CancelFunc != nil {
		je.CancelFunc()
	}
}

// IsStopping reports whether a stop was requested through Stop or recorded as STOPPING.
func (je *JobExecution) IsStopping() bool {
	return je.stopRequested.Load() || je.Status == BatchStatusStopping
}

// MarkAsStarted updates the JobExecution status to STARTED.
func (je *JobExecution) MarkAsStarted() {
	now := time.Now()
	je.Status = BatchStatusStarted
	je.ExitStatus = ExitStatusExecuting
	je.StartTime = now
	je.LastUpdated = now
}

// Finish sets the terminal status and exit status.
func (je *JobExecution) Finish(status BatchStatus, exitStatus ExitStatus) {
	if !status.IsFinished() {
		logger.Warnf("JobExecution (ID: %s): %s is not a terminal status.", je.ID, status)
	}
	now := time.Now()
	je.Status = status
	je.ExitStatus = exitStatus
	je.EndTime = &now
	je.LastUpdated = now
}

// AddFailureException records err once in the failure list.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	je.Failures = je.Failures.With(exception.ExtractErrorMessage(err))
	je.LastUpdated = time.Now()
}

// FailureList holds failure messages in the form they are persisted.
type FailureList []string

// With returns the list with msg appended unless already present.
func (fl FailureList) With(msg string) FailureList {
	for _, existing := range fl {
		if existing == msg {
			return fl
		}
	}
	return append(fl, msg)
}

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(fl))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	*fl = make(FailureList, 0)
	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, (*[]string)(fl)); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}
