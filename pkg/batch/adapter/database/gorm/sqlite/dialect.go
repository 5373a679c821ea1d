// Package sqlite registers the SQLite dialector. Import it for its side effect.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
)

// Type is the database type name.
const Type = "sqlite"

func init() {
	gormadapter.RegisterDialector(Type, NewDialector)
}

// DSN returns the file path, enabling foreign keys and a busy timeout so concurrent
// partitions wait for the write lock instead of failing.
func DSN(cfg database.Config) string {
	if cfg.Database == ":memory:" {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}
	return cfg.Database + "?_foreign_keys=on&_busy_timeout=5000"
}

// NewDialector creates the SQLite dialector. Open limits the pool to one connection unless
// max_open_conns is set.
func NewDialector(cfg database.Config) (gorm.Dialector, error) {
	if cfg.Database == "" {
		return nil, errors.New("SQLite database path cannot be empty")
	}
	return sqlite.Open(DSN(cfg)), nil
}
