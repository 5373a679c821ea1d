package metrics

import (
	"go.uber.org/fx"
)

// Module provides the no-op recorder and tracer. Applications that want real backends use
// infrastructure/metrics.Module instead, which provides the same interfaces.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
