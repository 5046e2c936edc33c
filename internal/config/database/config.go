// Package database holds the Postgres connection settings.
package database

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 5432
	DefaultUser            = "scraparr"
	DefaultDBName          = "scraparr"
	DefaultSSLMode         = "disable"
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultMigrationsPath  = "file://migrations"
)

// Config represents database configuration settings.
type Config struct {
	Host            string        `env:"DB_HOST"              yaml:"host"`
	Port            int           `env:"DB_PORT"              yaml:"port"`
	User            string        `env:"DB_USER"              yaml:"user"`
	Password        string        `env:"DB_PASSWORD"          yaml:"password"`
	DBName          string        `env:"DB_NAME"              yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE"           yaml:"sslmode"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    yaml:"max_open_conns"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" yaml:"conn_max_lifetime"`
	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate    bool   `env:"DB_AUTO_MIGRATE"    yaml:"auto_migrate"`
	MigrationsPath string `env:"DB_MIGRATIONS_PATH" yaml:"migrations_path"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.DBName == "" {
		c.DBName = DefaultDBName
	}
	if c.SSLMode == "" {
		c.SSLMode = DefaultSSLMode
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = DefaultMigrationsPath
	}
}

// DSN returns a lib/pq keyword/value connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// MigrateURL returns the postgres:// URL form expected by golang-migrate.
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}
