package model

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Well-known exit codes.
const (
	ExitCodeUnknown   = "UNKNOWN"
	ExitCodeExecuting = "EXECUTING"
	ExitCodeCompleted = "COMPLETED"
	ExitCodeNoop      = "NOOP"
	ExitCodeStopped   = "STOPPED"
	ExitCodeFailed    = "FAILED"
)

// MaxExitDescriptionLength is the description length kept when an ExitStatus is stored.
const MaxExitDescriptionLength = 250

// ExitStatus is the externally reported outcome of an execution: a machine readable code
// and a human readable description.
type ExitStatus struct {
	ExitCode        string `json:"exitCode"`
	ExitDescription string `json:"exitDescription,omitempty"`
}

var (
	ExitStatusUnknown   = ExitStatus{ExitCode: ExitCodeUnknown}
	ExitStatusExecuting = ExitStatus{ExitCode: ExitCodeExecuting}
	ExitStatusCompleted = ExitStatus{ExitCode: ExitCodeCompleted}
	ExitStatusNoop      = ExitStatus{ExitCode: ExitCodeNoop}
	ExitStatusStopped   = ExitStatus{ExitCode: ExitCodeStopped}
	ExitStatusFailed    = ExitStatus{ExitCode: ExitCodeFailed}
)

// NewExitStatus creates an ExitStatus with an optional description.
func NewExitStatus(code string, description ...string) ExitStatus {
	return ExitStatus{ExitCode: code, ExitDescription: strings.Join(description, "; ")}
}

// severity orders exit codes for And. UNKNOWN carries no information and loses to
// anything; custom codes outrank the built-in ones.
func (e ExitStatus) severity() int {
	switch {
	case e.ExitCode == "" || e.ExitCode == ExitCodeUnknown:
		return 0
	case strings.HasPrefix(e.ExitCode, ExitCodeExecuting):
		return 1
	case strings.HasPrefix(e.ExitCode, ExitCodeCompleted):
		return 2
	case strings.HasPrefix(e.ExitCode, ExitCodeNoop):
		return 3
	case strings.HasPrefix(e.ExitCode, ExitCodeStopped):
		return 4
	case strings.HasPrefix(e.ExitCode, ExitCodeFailed):
		return 5
	default:
		return 6
	}
}

// And combines two statuses: the result carries the more severe exit code and both
// descriptions.
func (e ExitStatus) And(other ExitStatus) ExitStatus {
	result := e.AddExitDescription(other.ExitDescription)
	if e.severity() < other.severity() {
		result = result.ReplaceExitCode(other.ExitCode)
	}
	return result
}

// ReplaceExitCode returns a copy with the exit code replaced.
func (e ExitStatus) ReplaceExitCode(code string) ExitStatus {
	return ExitStatus{ExitCode: code, ExitDescription: e.ExitDescription}
}

// AddExitDescription returns a copy with description appended. Empty or repeated
// descriptions leave the status unchanged.
func (e ExitStatus) AddExitDescription(description string) ExitStatus {
	description = strings.TrimSpace(description)
	if description == "" || description == e.ExitDescription {
		return e
	}
	if e.ExitDescription == "" {
		return ExitStatus{ExitCode: e.ExitCode, ExitDescription: description}
	}
	return ExitStatus{ExitCode: e.ExitCode, ExitDescription: e.ExitDescription + "; " + description}
}

// AddExitDescriptionFromError appends the message of err to the description.
func (e ExitStatus) AddExitDescriptionFromError(err error) ExitStatus {
	if err == nil {
		return e
	}
	return e.AddExitDescription(exception.ExtractErrorMessage(err))
}

// IsRunning reports whether the code still describes live work.
func (e ExitStatus) IsRunning() bool {
	return e.ExitCode == ExitCodeExecuting || e.ExitCode == ExitCodeUnknown
}

// Truncated returns a copy whose description holds at most max runes.
func (e ExitStatus) Truncated(max int) ExitStatus {
	if max < 0 || utf8.RuneCountInString(e.ExitDescription) <= max {
		return e
	}
	runes := []rune(e.ExitDescription)
	return ExitStatus{ExitCode: e.ExitCode, ExitDescription: string(runes[:max])}
}

// String returns a compact representation for logs.
func (e ExitStatus) String() string {
	if e.ExitDescription == "" {
		return e.ExitCode
	}
	return fmt.Sprintf("%s (%s)", e.ExitCode, e.ExitDescription)
}
