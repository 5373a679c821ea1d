package metrics

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Backend names.
const (
	BackendPrometheus = "prometheus"
	BackendOTel       = "otel"
	BackendNoop       = "noop"
)

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

type TelemetryResult struct {
	fx.Out
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// NewTelemetry builds the recorder and tracer selected by the infrastructure configuration and
// registers their shutdown on the lifecycle.
func NewTelemetry(p TelemetryParams) (TelemetryResult, error) {
	infra := p.Config.Chunkflow.Infrastructure

	recorder, err := newRecorder(p.Lifecycle, infra)
	if err != nil {
		return TelemetryResult{}, err
	}
	if infra.Metrics.AsyncBufferSize > 0 {
		async := NewAsyncMetricRecorder(infra.Metrics.AsyncBufferSize, recorder)
		p.Lifecycle.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		}})
		logger.Debugf("MetricRecorder decorated with asynchronous wrapper (buffer %d).", infra.Metrics.AsyncBufferSize)
		recorder = async
	}

	var tracer metrics.Tracer = metrics.NewNoOpTracer()
	if infra.Tracing.Enabled {
		tp, err := NewTracerProvider(context.Background(), infra.Tracing)
		if err != nil {
			return TelemetryResult{}, err
		}
		p.Lifecycle.Append(fx.Hook{OnStop: tp.Shutdown})
		tracer = NewOpenTelemetryTracer(tp)
		logger.Infof("Tracing enabled (exporter %s).", infra.Tracing.Exporter)
	}

	return TelemetryResult{MetricRecorder: recorder, Tracer: tracer}, nil
}

func newRecorder(lc fx.Lifecycle, infra config.InfrastructureConfig) (metrics.MetricRecorder, error) {
	switch infra.Metrics.Backend {
	case BackendPrometheus:
		r := NewPrometheusRecorder()
		if addr := infra.Metrics.ListenAddress; addr != "" {
			server := NewMetricsServer(addr, r.GetRegistry())
			lc.Append(fx.Hook{OnStart: server.Start, OnStop: server.Stop})
		}
		return r, nil
	case BackendOTel:
		mp, err := NewMeterProvider(context.Background(), infra.Metrics, infra.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: mp.Shutdown})
		r, err := NewOTelRecorder(mp.Meter(MeterName))
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendNoop, "":
		return metrics.NewNoOpMetricRecorder(), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", infra.Metrics.Backend)
	}
}

// Module provides the MetricRecorder and Tracer chosen by configuration. It replaces
// core/metrics.Module in applications that export telemetry.
var Module = fx.Module("telemetry",
	fx.Provide(NewTelemetry),
)
