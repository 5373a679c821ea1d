package remote

import (
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewSubmitterFromConfig returns an HTTPSubmitter when partitions are handled remotely and an
// endpoint is configured, and nil otherwise.
func NewSubmitterFromConfig(cfg *config.BatchConfig) port.RemoteStepSubmitter {
	p := cfg.Partition
	if p.Handler != config.PartitionHandlerRemote || p.RemoteEndpoint == "" {
		return nil
	}
	return NewHTTPSubmitter(p.RemoteEndpoint, 0)
}

type WorkerParams struct {
	fx.In
	Lifecycle     fx.Lifecycle
	Config        *config.BatchConfig
	Steps         []port.Step `group:"worker_steps"`
	StepExecutor  port.StepExecutor
	JobRepository repository.JobRepository
}

// NewWorkerFromConfig creates the Worker and, when a listen address is configured, serves it
// for the lifetime of the application.
func NewWorkerFromConfig(p WorkerParams) *Worker {
	w := NewWorker(p.Steps, p.StepExecutor, p.JobRepository).
		WithStopPollInterval(time.Duration(p.Config.Partition.PollIntervalMillis) * time.Millisecond)
	if addr := p.Config.Partition.WorkerListenAddress; addr != "" {
		server := NewWorkerServer(addr, w)
		p.Lifecycle.Append(fx.Hook{OnStart: server.Start, OnStop: server.Stop})
	} else {
		p.Lifecycle.Append(fx.Hook{OnStop: w.Shutdown})
		logger.Debugf("Worker: no listen address configured; remote partitions are not accepted.")
	}
	return w
}

// SubmitterModule provides the RemoteStepSubmitter used by remote partition handlers.
var SubmitterModule = fx.Module("remote-submitter",
	fx.Provide(NewSubmitterFromConfig),
)

// WorkerModule runs a Worker for the steps contributed to the "worker_steps" group.
var WorkerModule = fx.Module("remote-worker",
	fx.Provide(NewWorkerFromConfig),
	fx.Invoke(func(*Worker) {}),
)
