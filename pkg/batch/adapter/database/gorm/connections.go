package gorm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Connection is an open, named database connection.
type Connection struct {
	name string
	cfg  database.Config
	db   *gorm.DB
}

// NewConnection wraps an already opened db. Tests use it with sqlmock or in-memory sqlite.
func NewConnection(name string, cfg database.Config, db *gorm.DB) *Connection {
	return &Connection{name: name, cfg: cfg, db: db}
}

// Name returns the configured connection name.
func (c *Connection) Name() string { return c.name }

// Type returns the database type, e.g. "postgres".
func (c *Connection) Type() string { return c.cfg.Type }

// Config returns the connection settings.
func (c *Connection) Config() database.Config { return c.cfg }

// DB returns the GORM handle.
func (c *Connection) DB() *gorm.DB { return c.db }

// Ping verifies the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool.
func (c *Connection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Connections opens the database connections configured under chunkflow.adapter.database
// on first use.
type Connections struct {
	sections map[string]interface{}

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewConnections creates a Connections over the database section of cfg.
func NewConnections(cfg *config.Config) *Connections {
	return &Connections{
		sections: cfg.AdapterSection("database"),
		conns:    make(map[string]*Connection),
	}
}

// Add registers an already opened connection under its name.
func (c *Connections) Add(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.Name()] = conn
}

// Get returns the connection configured under name, opening it if needed.
func (c *Connections) Get(name string) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[name]; ok {
		return conn, nil
	}
	raw, ok := c.sections[name]
	if !ok {
		return nil, fmt.Errorf("database connection '%s' is not configured", name)
	}
	var dc database.Config
	if err := configbinder.BindProperties(raw, &dc); err != nil {
		return nil, fmt.Errorf("database connection '%s': %w", name, err)
	}
	db, err := Open(dc)
	if err != nil {
		return nil, fmt.Errorf("database connection '%s': %w", name, err)
	}
	conn := NewConnection(name, dc, db)
	c.conns[name] = conn
	logger.Infof("Opened database connection '%s' (%s).", name, dc)
	return conn, nil
}

// CloseAll closes every open connection.
func (c *Connections) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error
	for name, conn := range c.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database connection '%s': %w", name, err))
		}
		delete(c.conns, name)
	}
	return result.ErrorOrNil()
}

// Open connects with the dialector registered for cfg.Type and applies the pool settings.
func Open(cfg database.Config) (*gorm.DB, error) {
	factory, err := DialectorFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(cfg.LogLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Type == "sqlite" && cfg.Pool.MaxOpenConns == 0 {
		cfg.Pool.MaxOpenConns = 1
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
