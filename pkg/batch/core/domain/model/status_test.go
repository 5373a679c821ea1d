package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func TestBatchStatus_Max(t *testing.T) {
	cases := []struct {
		a, b, want model.BatchStatus
	}{
		{model.BatchStatusCompleted, model.BatchStatusStopped, model.BatchStatusStopped},
		{model.BatchStatusFailed, model.BatchStatusStopped, model.BatchStatusFailed},
		{model.BatchStatusStarted, model.BatchStatusCompleted, model.BatchStatusStarted},
		{model.BatchStatusAbandoned, model.BatchStatusFailed, model.BatchStatusAbandoned},
		{model.BatchStatusUnknown, model.BatchStatusAbandoned, model.BatchStatusUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, model.MaxStatus(c.a, c.b), "%s vs %s", c.a, c.b)
		assert.Equal(t, c.want, model.MaxStatus(c.b, c.a), "%s vs %s", c.b, c.a)
	}
}

func TestBatchStatus_Upgrade(t *testing.T) {
	assert.Equal(t, model.BatchStatusCompleted, model.BatchStatusStarting.Upgrade(model.BatchStatusCompleted))
	assert.Equal(t, model.BatchStatusCompleted, model.BatchStatusCompleted.Upgrade(model.BatchStatusStarted))
	assert.Equal(t, model.BatchStatusStarted, model.BatchStatusStarting.Upgrade(model.BatchStatusStarted))
	assert.Equal(t, model.BatchStatusFailed, model.BatchStatusCompleted.Upgrade(model.BatchStatusFailed))
	assert.Equal(t, model.BatchStatusStopped, model.BatchStatusStopped.Upgrade(model.BatchStatusCompleted))
}

func TestBatchStatus_Predicates(t *testing.T) {
	assert.True(t, model.BatchStatusStopping.IsRunning())
	assert.False(t, model.BatchStatusStopped.IsRunning())
	assert.True(t, model.BatchStatusUnknown.IsFinished())
	assert.False(t, model.BatchStatusStarted.IsFinished())
	assert.True(t, model.BatchStatusAbandoned.IsUnsuccessful())
	assert.False(t, model.BatchStatusStopped.IsUnsuccessful())

	assert.Equal(t, model.BatchStatusCompleted, model.ParseBatchStatus(" completed "))
	assert.Equal(t, model.BatchStatusUnknown, model.ParseBatchStatus("RUNNING"))
	assert.Equal(t, model.ExitStatusStopped, model.BatchStatusStopped.ToExitStatus())
}

func TestExitStatus_And(t *testing.T) {
	unknown := model.ExitStatusUnknown
	assert.Equal(t, model.ExitStatusCompleted, unknown.And(model.ExitStatusCompleted))
	assert.Equal(t, model.ExitCodeFailed, model.ExitStatusCompleted.And(model.ExitStatusFailed).ExitCode)
	assert.Equal(t, model.ExitCodeFailed, model.ExitStatusFailed.And(model.ExitStatusCompleted).ExitCode)
	assert.Equal(t, model.ExitCodeNoop, model.ExitStatusCompleted.And(model.ExitStatusNoop).ExitCode)

	custom := model.NewExitStatus("COMPLETED WITH SKIPS", "3 lines skipped")
	assert.Equal(t, "COMPLETED WITH SKIPS", custom.And(model.ExitStatusExecuting).ExitCode)

	partial := model.NewExitStatus("PARTIAL")
	assert.Equal(t, "PARTIAL", model.ExitStatusFailed.And(partial).ExitCode)

	combined := model.NewExitStatus(model.ExitCodeFailed, "reader failed").
		And(model.NewExitStatus(model.ExitCodeStopped, "stopped by operator"))
	assert.Equal(t, model.ExitCodeFailed, combined.ExitCode)
	assert.Equal(t, "reader failed; stopped by operator", combined.ExitDescription)
}

func TestExitStatus_Descriptions(t *testing.T) {
	s := model.ExitStatusFailed.AddExitDescription("boom").AddExitDescription("boom").AddExitDescription("  ")
	assert.Equal(t, "boom", s.ExitDescription)

	s = model.ExitStatusFailed.AddExitDescriptionFromError(errors.New("disk full"))
	assert.Contains(t, s.ExitDescription, "disk full")
	assert.Equal(t, model.ExitStatusFailed, model.ExitStatusFailed.AddExitDescriptionFromError(nil))

	long := model.NewExitStatus(model.ExitCodeFailed, "ééééé")
	assert.Equal(t, "ééé", long.Truncated(3).ExitDescription)
	assert.Equal(t, "FAILED (ééééé)", long.String())
}
