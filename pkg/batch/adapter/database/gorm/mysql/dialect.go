// Package mysql registers the MySQL dialector. Import it for its side effect.
package mysql

import (
	"fmt"

	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
)

// Type is the database type name.
const Type = "mysql"

func init() {
	gormadapter.RegisterDialector(Type, NewDialector)
}

// DSN builds the driver DSN. Times are parsed into time.Time.
func DSN(cfg database.Config) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dc := driver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.Sslmode != "" && cfg.Sslmode != "disable" {
		dc.TLSConfig = "true"
	}
	return dc.FormatDSN()
}

// NewDialector creates the MySQL dialector.
func NewDialector(cfg database.Config) (gorm.Dialector, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MySQL host cannot be empty")
	}
	return mysql.Open(DSN(cfg)), nil
}
