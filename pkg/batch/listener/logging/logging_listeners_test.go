package logging_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	previous := logger.GetLogLevel()
	logger.SetLogLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(previous)
	})
	return &buf
}

func TestStepLogger_RegistersOnEveryExtensionPoint(t *testing.T) {
	var listeners port.StepListeners
	listeners.Register(logging.NewStepLogger())

	assert.Len(t, listeners.Step, 1)
	assert.Len(t, listeners.Chunk, 1)
	assert.Len(t, listeners.Read, 1)
	assert.Len(t, listeners.Process, 1)
	assert.Len(t, listeners.Write, 1)
	assert.Len(t, listeners.Skip, 1)
	assert.Len(t, listeners.Retry, 1)
}

func TestStepLogger_NamesStepFromContext(t *testing.T) {
	buf := captureLog(t)
	ji, err := model.NewJobInstance("import", model.NewJobParameters())
	require.NoError(t, err)
	se := model.NewJobExecution(ji, ji.Parameters).CreateStepExecution("load")
	ctx := port.WithStepExecution(context.Background(), se)

	l := logging.NewStepLogger()
	l.OnSkipInProcess(ctx, 42, errors.New("bad record"))
	l.OnRetryWrite(ctx, []interface{}{1, 2}, 2, errors.New("deadlock"))

	out := buf.String()
	assert.Contains(t, out, "Step 'load': skipped item 42 in process: bad record")
	assert.Contains(t, out, "retrying write of 2 item(s) (attempt 2): deadlock")
}

func TestJobLogger_WarnsOnFailure(t *testing.T) {
	buf := captureLog(t)
	ji, err := model.NewJobInstance("import", model.NewJobParameters())
	require.NoError(t, err)
	je := model.NewJobExecution(ji, ji.Parameters)
	je.Finish(model.BatchStatusFailed, model.ExitStatusFailed)

	logging.NewJobLogger().AfterJob(context.Background(), je)
	assert.Contains(t, buf.String(), "finished with status FAILED")
}

func TestJobLogger_MasksParameters(t *testing.T) {
	buf := captureLog(t)
	params := model.NewJobParameters()
	params.Put("input", "in/")
	params.Put("db.password", "secret")
	ji, err := model.NewJobInstance("import", params)
	require.NoError(t, err)
	je := model.NewJobExecution(ji, params)

	cfg := config.NewConfig()
	cfg.Chunkflow.System.Logging.MaskedParameterKeys = []string{"db.password"}
	logging.NewJobLoggerFromConfig(cfg).BeforeJob(context.Background(), je)

	out := buf.String()
	assert.Contains(t, out, `"input":"in/"`)
	assert.Contains(t, out, `"db.password":"********"`)
	assert.NotContains(t, out, "secret")
}
