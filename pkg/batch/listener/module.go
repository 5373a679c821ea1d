// Package listener aggregates the listener modules of the framework.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
)

// Module provides the logging and notification listeners.
var Module = fx.Options(
	logging.Module,
	notification.Module,
)
