package storage

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// ConnectionsParams are the dependencies of the Connections provider.
type ConnectionsParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Providers []Provider `group:"storage_providers"`
}

// NewConnectionsProvider creates the Connections and closes them on shutdown.
func NewConnectionsProvider(p ConnectionsParams) *Connections {
	conns := NewConnections(p.Config, p.Providers)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conns.CloseAll()
		},
	})
	return conns
}

// Module provides *Connections. Backends contribute providers to the "storage_providers" group.
var Module = fx.Options(
	fx.Provide(NewConnectionsProvider),
)
