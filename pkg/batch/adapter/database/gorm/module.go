package gorm

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewConnectionsProvider creates Connections and closes them when the application stops.
func NewConnectionsProvider(lc fx.Lifecycle, cfg *config.Config) *Connections {
	conns := NewConnections(cfg)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing database connections.")
			return conns.CloseAll()
		},
	})
	return conns
}

// Module provides the named database connections.
var Module = fx.Module("database",
	fx.Provide(NewConnectionsProvider),
)
