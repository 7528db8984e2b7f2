// Package db provides the connection pools poolmeter opens and instruments.
// It wraps sqlx over lib/pq and modernc sqlite, and pgx's pgxpool, behind a
// small Source interface used for health checks.
package db

import (
	"fmt"
	"time"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// Config holds database configuration for one named pool.
type Config struct {
	Driver          string        `yaml:"driver" json:"driver" mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite pgx"`
	Host            string        `yaml:"host" json:"host" mapstructure:"host"`
	Port            int           `yaml:"port" json:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database        string        `yaml:"database" json:"database" mapstructure:"database"`
	Username        string        `yaml:"username" json:"username" mapstructure:"username"`
	Password        string        `yaml:"password" json:"password" mapstructure:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" mapstructure:"ssl_mode"`
	DSN             string        `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=0,max=2147483647"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=0,max=2147483647"`
	MinConns        int           `yaml:"min_conns" json:"min_conns" mapstructure:"min_conns" validate:"gte=0,max=2147483647"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	// SlowAcquireThreshold wraps the pool in a LoggingPool when positive.
	SlowAcquireThreshold time.Duration `yaml:"slow_acquire_threshold" json:"slow_acquire_threshold" mapstructure:"slow_acquire_threshold"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverPostgres,
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// DriverName returns the configured driver, defaulting to postgres.
func (c *Config) DriverName() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return c.Driver
}

// DataSourceName builds the connection string for the configured driver.
// An explicit DSN always wins.
func (c *Config) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.DriverName() == DriverSQLite {
		return ":memory:"
	}
	// lib/pq and pgx both accept the key=value form.
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database,
		c.Username, c.Password, c.SSLMode,
	)
}
