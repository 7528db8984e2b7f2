package db

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/logging"
)

// Open connects a sqlx-backed pool and applies the pool knobs from cfg.
// Returns sanitized errors that don't leak credentials or DSN details.
func Open(ctx context.Context, name string, cfg *Config) (*Pool, error) {
	driver := cfg.DriverName()
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, errors.ErrUnsupportedDriver(driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DataSourceName())
	if err != nil {
		return nil, sanitizeConnectError(name, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logging.Default().WithComponent("database").Info("Connected to database",
		"pool", name, "driver", driver, "host", cfg.Host, "database", cfg.Database)
	return NewPool(name, db), nil
}

// OpenPgx creates a pgx pool and verifies one connection.
func OpenPgx(ctx context.Context, name string, cfg *Config) (*pgxpool.Pool, error) {
	poolConfig, err := PgxPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, sanitizeConnectError(name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sanitizeConnectError(name, err)
	}

	logging.Default().WithComponent("database").Info("Connected to database",
		"pool", name, "driver", DriverPgx, "host", cfg.Host, "database", cfg.Database)
	return pool, nil
}

// PgxPoolConfig translates cfg into a pgxpool configuration.
func PgxPoolConfig(cfg *Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DataSourceName())
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeValidation, "Invalid pgx connection settings", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = clampInt32(cfg.MaxOpenConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = clampInt32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	return poolConfig, nil
}

// clampInt32 caps n at the largest pgxpool size.
func clampInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

// OpenSource opens the pool kind selected by cfg.Driver. sqlx pools with a
// slow acquire threshold come back wrapped in a LoggingPool.
func OpenSource(ctx context.Context, name string, cfg *Config, logger *logging.Logger) (Source, error) {
	if cfg.DriverName() == DriverPgx {
		pool, err := OpenPgx(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}

	pool, err := Open(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SlowAcquireThreshold > 0 {
		return NewLoggingPool(pool, cfg.SlowAcquireThreshold, logger), nil
	}
	return pool, nil
}

func sanitizeConnectError(name string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			dbErr := errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Database authentication failed", err)
			dbErr.Pool = name
			return dbErr
		case "3D000": // invalid_catalog_name
			dbErr := errors.WrapDatabaseError(errors.CodeDatabaseConnection,
				fmt.Sprintf("Database does not exist for pool %s", name), err)
			dbErr.Pool = name
			return dbErr
		}
	}
	return errors.ErrDatabaseConnection(name, err)
}
