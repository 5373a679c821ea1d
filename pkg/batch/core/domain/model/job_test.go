package model_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func newJobExecution(t *testing.T) *model.JobExecution {
	t.Helper()
	ji, err := model.NewJobInstance("job", model.NewJobParameters())
	require.NoError(t, err)
	return model.NewJobExecution(ji, model.NewJobParameters())
}

// Run with -race: Stop reads step state while the steps update their own status.
func TestJobExecution_StopWhileStepsRun(t *testing.T) {
	je := newJobExecution(t)
	steps := make([]*model.StepExecution, 8)
	for i := range steps {
		steps[i] = je.CreateStepExecution("step")
	}

	var wg sync.WaitGroup
	for i, se := range steps {
		wg.Add(1)
		go func(i int, se *model.StepExecution) {
			defer wg.Done()
			se.MarkAsStarted()
			if i%2 == 0 {
				se.MarkAsCompleted()
			}
		}(i, se)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		je.Stop()
	}()
	wg.Wait()

	assert.True(t, je.IsStopping())
	for i, se := range steps {
		if i%2 == 1 {
			assert.True(t, se.IsTerminateOnly(), "running step %d must be asked to stop", i)
		}
	}
}

func TestStepExecution_IsFinished(t *testing.T) {
	se := newJobExecution(t).CreateStepExecution("step")
	assert.False(t, se.IsFinished())

	se.MarkAsStarted()
	assert.False(t, se.IsFinished())

	se.MarkAsStopped()
	assert.True(t, se.IsFinished())
	assert.True(t, se.Clone().IsFinished())

	se.MarkAsStarted()
	assert.False(t, se.IsFinished())
}

func TestJobExecution_StopSkipsFinishedSteps(t *testing.T) {
	je := newJobExecution(t)
	done := je.CreateStepExecution("done")
	done.MarkAsStarted()
	done.MarkAsCompleted()
	running := je.CreateStepExecution("running")
	running.MarkAsStarted()

	je.Stop()

	assert.False(t, done.IsTerminateOnly())
	assert.True(t, running.IsTerminateOnly())
}
