package sql

import "time"

const (
	jobInstanceTable   = "batch_job_instance"
	jobExecutionTable  = "batch_job_execution"
	stepExecutionTable = "batch_step_execution"
)

// JobInstanceEntity is the row of batch_job_instance.
type JobInstanceEntity struct {
	ID             string `gorm:"primaryKey;size:36"`
	JobName        string `gorm:"size:100"`
	Parameters     string
	ParametersHash string `gorm:"size:64"`
	CreateTime     time.Time
	Version        int
}

// TableName implements gorm's schema.Tabler.
func (JobInstanceEntity) TableName() string { return jobInstanceTable }

// JobExecutionEntity is the row of batch_job_execution.
type JobExecutionEntity struct {
	ID               string `gorm:"primaryKey;size:36"`
	JobInstanceID    string `gorm:"size:36"`
	JobName          string `gorm:"size:100"`
	Parameters       string
	Status           string `gorm:"size:20"`
	ExitCode         string `gorm:"size:100"`
	ExitDescription  string
	StartTime        *time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	Failures         string
	ExecutionContext string
	Version          int
}

// TableName implements gorm's schema.Tabler.
func (JobExecutionEntity) TableName() string { return jobExecutionTable }

// StepExecutionEntity is the row of batch_step_execution.
type StepExecutionEntity struct {
	ID               string `gorm:"primaryKey;size:36"`
	JobExecutionID   string `gorm:"size:36"`
	StepName         string `gorm:"size:200"`
	Status           string `gorm:"size:20"`
	ExitCode         string `gorm:"size:100"`
	ExitDescription  string
	StartTime        *time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	ReadCount        int64
	WriteCount       int64
	CommitCount      int64
	RollbackCount    int64
	FilterCount      int64
	ReadSkipCount    int64
	ProcessSkipCount int64
	WriteSkipCount   int64
	Failures         string
	ExecutionContext string
	Version          int
}

// TableName implements gorm's schema.Tabler.
func (StepExecutionEntity) TableName() string { return stepExecutionTable }
