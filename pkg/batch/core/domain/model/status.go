package model

import "strings"

// BatchStatus is the lifecycle state of a job or step execution.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// statusOrder is the severity order used when reducing several statuses into one.
var statusOrder = map[BatchStatus]int{
	BatchStatusCompleted: 0,
	BatchStatusStarting:  1,
	BatchStatusStarted:   2,
	BatchStatusStopping:  3,
	BatchStatusStopped:   4,
	BatchStatusFailed:    5,
	BatchStatusAbandoned: 6,
	BatchStatusUnknown:   7,
}

// ParseBatchStatus converts a persisted name into a BatchStatus. Unrecognised names map to UNKNOWN.
func ParseBatchStatus(s string) BatchStatus {
	status := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := statusOrder[status]; ok {
		return status
	}
	return BatchStatusUnknown
}

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

func (s BatchStatus) ordinal() int {
	if o, ok := statusOrder[s]; ok {
		return o
	}
	return statusOrder[BatchStatusUnknown]
}

// IsGreaterThan reports whether s is more severe than other.
func (s BatchStatus) IsGreaterThan(other BatchStatus) bool {
	return s.ordinal() > other.ordinal()
}

// MaxStatus returns the more severe of a and b.
func MaxStatus(a, b BatchStatus) BatchStatus {
	if b.IsGreaterThan(a) {
		return b
	}
	return a
}

// IsRunning reports whether the status still represents live work.
func (s BatchStatus) IsRunning() bool {
	return s == BatchStatusStarting || s == BatchStatusStarted || s == BatchStatusStopping
}

// IsFinished reports whether the status is terminal.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned, BatchStatusUnknown:
		return true
	default:
		return false
	}
}

// IsUnsuccessful reports whether the status is FAILED or worse.
func (s BatchStatus) IsUnsuccessful() bool {
	return s == BatchStatusFailed || s.IsGreaterThan(BatchStatusFailed)
}

// Upgrade combines s with a newly observed status. Once either side has gone past STARTED
// the more severe one wins; otherwise COMPLETED beats a status that is still starting.
func (s BatchStatus) Upgrade(other BatchStatus) BatchStatus {
	if s.IsGreaterThan(BatchStatusStarted) || other.IsGreaterThan(BatchStatusStarted) {
		return MaxStatus(s, other)
	}
	if s == BatchStatusCompleted || other == BatchStatusCompleted {
		return BatchStatusCompleted
	}
	return MaxStatus(s, other)
}

// ToExitStatus returns the ExitStatus conventionally paired with the status.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed, BatchStatusAbandoned:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}
