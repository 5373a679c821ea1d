package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Worker runs child step executions submitted by a manager. Each accepted child runs in its own
// goroutine through the StepExecutor, which records the outcome in the shared repository.
// While a child runs, the worker polls its JobExecution and asks the child to stop once the
// manager has recorded STOPPING there.
type Worker struct {
	steps            map[string]port.Step
	executor         port.StepExecutor
	jobRepository    repository.JobRepository
	stopPollInterval time.Duration

	mu       sync.Mutex
	wg       sync.WaitGroup
	cancels  map[string]context.CancelFunc
	draining bool
}

// NewWorker creates a Worker able to run steps. Children are matched to steps by the name of the
// worker step the manager partitioned.
func NewWorker(steps []port.Step, executor port.StepExecutor, jobRepository repository.JobRepository) *Worker {
	byName := make(map[string]port.Step, len(steps))
	for _, s := range steps {
		byName[s.StepName()] = s
	}
	return &Worker{
		steps:            byName,
		executor:         executor,
		jobRepository:    jobRepository,
		stopPollInterval: time.Second,
		cancels:          make(map[string]context.CancelFunc),
	}
}

// WithStopPollInterval sets how often a running child's JobExecution is checked for a stop.
func (w *Worker) WithStopPollInterval(d time.Duration) *Worker {
	if d > 0 {
		w.stopPollInterval = d
	}
	return w
}

// Handler returns the HTTP handler serving PartitionsPath, instrumented with otelhttp so the
// manager's trace context is continued.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PartitionsPath, w.handleSubmit)
	return otelhttp.NewHandler(mux, "partition.submit")
}

func (w *Worker) handleSubmit(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := w.Accept(r.Context(), req); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errUnknownStep), errors.Is(err, repository.ErrStepExecutionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, errAlreadyFinished):
			status = http.StatusConflict
		case errors.Is(err, errDraining):
			status = http.StatusServiceUnavailable
		}
		http.Error(rw, err.Error(), status)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

var (
	errUnknownStep     = errors.New("unknown step")
	errDraining        = errors.New("worker is shutting down")
	errAlreadyFinished = errors.New("already finished")
)

// Accept loads the child named by req and starts it in the background. The child keeps the
// values of ctx (trace) but not its cancellation; Shutdown stops it.
func (w *Worker) Accept(ctx context.Context, req SubmitRequest) error {
	step, ok := w.steps[req.StepName]
	if !ok {
		return fmt.Errorf("%w '%s'", errUnknownStep, req.StepName)
	}
	se, err := w.jobRepository.FindStepExecutionByID(ctx, req.StepExecutionID)
	if err != nil {
		return err
	}
	if se.Status.IsFinished() {
		return fmt.Errorf("%w: step execution %s is %s", errAlreadyFinished, se.ID, se.Status)
	}

	w.mu.Lock()
	if w.draining {
		w.mu.Unlock()
		return errDraining
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if se.JobExecution != nil {
		runCtx = port.WithJobExecution(runCtx, se.JobExecution)
	}
	w.cancels[se.ID] = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.cancels, se.ID)
			w.mu.Unlock()
			cancel()
		}()
		go w.watchStop(runCtx, se)
		logger.Infof("Worker: running '%s' (StepExecution %s).", se.StepName, se.ID)
		if _, err := w.executor.ExecuteStep(runCtx, step, se); err != nil {
			logger.Warnf("Worker: '%s' (StepExecution %s) finished with error: %v", se.StepName, se.ID, err)
		}
	}()
	return nil
}

// watchStop sets the stop flag of se once its JobExecution is STOPPING or over. It returns
// when ctx ends, which happens when the child finishes.
func (w *Worker) watchStop(ctx context.Context, se *model.StepExecution) {
	if se.JobExecutionID == "" {
		return
	}
	ticker := time.NewTicker(w.stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			je, err := w.jobRepository.FindJobExecutionByID(ctx, se.JobExecutionID)
			if err != nil {
				logger.Warnf("Worker: cannot check JobExecution %s of '%s': %v", se.JobExecutionID, se.StepName, err)
				continue
			}
			if je.Status == model.BatchStatusStopping || je.Status.IsFinished() {
				logger.Infof("Worker: JobExecution %s is %s, stopping '%s'.", je.ID, je.Status, se.StepName)
				se.SetTerminateOnly()
				return
			}
		}
	}
}

// Accepting reports whether the worker still takes new children.
func (w *Worker) Accepting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.draining
}

// Running returns how many children are executing.
func (w *Worker) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cancels)
}

// Shutdown refuses new children and waits for the running ones. When ctx expires first, the
// running children are cancelled and Shutdown waits for them to record their outcome.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.draining = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		for _, cancel := range w.cancels {
			cancel()
		}
		w.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// WorkerServer serves a Worker's handler on an address.
type WorkerServer struct {
	worker *Worker
	server *http.Server
	ln     net.Listener
}

func NewWorkerServer(addr string, worker *Worker) *WorkerServer {
	return &WorkerServer{
		worker: worker,
		server: &http.Server{Addr: addr, Handler: worker.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
}

func (s *WorkerServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Worker server stopped: %v", err)
		}
	}()
	logger.Infof("Worker accepting partitions on %s.", ln.Addr())
	return nil
}

// Addr returns the bound address.
func (s *WorkerServer) Addr() string {
	if s.ln == nil {
		return s.server.Addr
	}
	return s.ln.Addr().String()
}

// Stop closes the listener, then drains the worker.
func (s *WorkerServer) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.worker.Shutdown(ctx)
}
