package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Connections opens named storage connections on first use and keeps them until CloseAll.
type Connections struct {
	sections  map[string]interface{}
	providers map[string]Provider

	mu    sync.Mutex
	conns map[string]Connection
}

// NewConnections creates a Connections over the storage section of cfg.
func NewConnections(cfg *config.Config, providers []Provider) *Connections {
	byType := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byType[p.Type()] = p
	}
	return &Connections{
		sections:  cfg.AdapterSection("storage"),
		providers: byType,
		conns:     make(map[string]Connection),
	}
}

// Get returns the connection configured under name, opening it if needed.
func (c *Connections) Get(ctx context.Context, name string) (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[name]; ok {
		return conn, nil
	}
	raw, ok := c.sections[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' is not configured", name)
	}
	var sc Config
	if err := configbinder.BindProperties(raw, &sc); err != nil {
		return nil, fmt.Errorf("storage connection '%s': %w", name, err)
	}
	provider, ok := c.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s': no provider for type '%s'", name, sc.Type)
	}
	conn, err := provider.Open(ctx, name, sc)
	if err != nil {
		return nil, fmt.Errorf("storage connection '%s': %w", name, err)
	}
	c.conns[name] = conn
	logger.Debugf("Opened %s storage connection '%s'.", sc.Type, name)
	return conn, nil
}

// CloseAll closes every open connection.
func (c *Connections) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error
	for name, conn := range c.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close storage connection '%s': %w", name, err))
		}
		delete(c.conns, name)
	}
	return result.ErrorOrNil()
}
