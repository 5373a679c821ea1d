// Package remote carries partition child executions between a manager process and worker
// processes over HTTP. Both sides share the JobRepository: the request only names the child,
// and the manager learns the outcome by polling the repository.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PartitionsPath is the worker endpoint accepting submissions.
const PartitionsPath = "/partitions"

// SubmitRequest names a child StepExecution that is already persisted.
type SubmitRequest struct {
	StepName        string `json:"stepName"`
	StepExecutionID string `json:"stepExecutionId"`
	JobExecutionID  string `json:"jobExecutionId"`
}

// HTTPSubmitter posts child executions to a worker. The trace context of ctx travels with the
// request so the worker's step span joins the manager's trace.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSubmitter creates a submitter for the worker at endpoint (scheme://host[:port]).
func NewHTTPSubmitter(endpoint string, timeout time.Duration) *HTTPSubmitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSubmitter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Submit implements port.RemoteStepSubmitter. A 202 means the worker accepted the child.
func (s *HTTPSubmitter) Submit(ctx context.Context, step port.Step, stepExecution *model.StepExecution) error {
	body, err := json.Marshal(SubmitRequest{
		StepName:        step.StepName(),
		StepExecutionID: stepExecution.ID,
		JobExecutionID:  stepExecution.JobExecutionID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+PartitionsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debugf("HTTPSubmitter: submitting '%s' (StepExecution %s) to %s.", stepExecution.StepName, stepExecution.ID, s.endpoint)
	resp, err := s.client.Do(req)
	if err != nil {
		return exception.NewBatchError("remote", fmt.Sprintf("submitting '%s' failed", stepExecution.StepName), err, false, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return exception.NewBatchError("remote",
			fmt.Sprintf("worker rejected '%s': %s %s", stepExecution.StepName, resp.Status, strings.TrimSpace(string(msg))),
			nil, false, resp.StatusCode >= 500)
	}
	return nil
}

var _ port.RemoteStepSubmitter = (*HTTPSubmitter)(nil)
