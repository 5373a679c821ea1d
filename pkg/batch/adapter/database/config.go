// Package database holds the connection settings shared by the relational adapters.
package database

import "fmt"

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// Config holds the settings of one named database connection, read from
// chunkflow.adapter.database.<name>.
type Config struct {
	Type     string     `yaml:"type"` // "postgres", "mysql" or "sqlite".
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"` // Database name, or the file path for sqlite.
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Schema   string     `yaml:"schema,omitempty"` // PostgreSQL search_path.
	Sslmode  string     `yaml:"sslmode"`
	LogLevel string     `yaml:"log_level"` // SQL statement logging; SILENT when empty.
	Pool     PoolConfig `yaml:"pool"`
}

// String omits the password.
func (c Config) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", c.Type, c.User, c.Host, c.Port, c.Database)
}
