package sql

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MigrationsTable records the applied schema version of the job repository.
const MigrationsTable = "batch_schema_migrations"

//go:embed migrations
var migrations embed.FS

// Migrate creates or upgrades the job repository schema on db. dbType selects the
// migration set: "sqlite", "mysql" or "postgres".
func Migrate(db *gorm.DB, dbType string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	var driver migratedb.Driver
	var dir string
	switch dbType {
	case "sqlite":
		dir = "migrations/sqlite3"
		driver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		dir = "migrations/mysql"
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case "postgres":
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	default:
		return fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", dbType, err)
	}

	source, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations at %s: %w", dir, err)
	}
	m, err := migrate.NewWithInstance("iofs", source, dbType, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// m is not closed: closing its database driver would close db as well.
	logger.Infof("Migrating job repository schema (%s).", dbType)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("job repository migration failed (%s): %w", dbType, err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read job repository schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("job repository schema version %d is dirty", version)
	}
	logger.Debugf("Job repository schema is at version %d.", version)
	return nil
}
