// Package postgres registers the PostgreSQL dialector. Import it for its side effect.
package postgres

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
)

// Type is the database type name.
const Type = "postgres"

func init() {
	gormadapter.RegisterDialector(Type, NewDialector)
}

// DSN builds a key=value connection string.
func DSN(cfg database.Config) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		"host=" + cfg.Host,
		fmt.Sprintf("port=%d", port),
		"user=" + cfg.User,
		"password=" + cfg.Password,
		"dbname=" + cfg.Database,
		"sslmode=" + sslmode,
	}
	if cfg.Schema != "" {
		parts = append(parts, "search_path="+cfg.Schema)
	}
	return strings.Join(parts, " ")
}

// NewDialector creates the PostgreSQL dialector.
func NewDialector(cfg database.Config) (gorm.Dialector, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("PostgreSQL host cannot be empty")
	}
	return postgres.Open(DSN(cfg)), nil
}
