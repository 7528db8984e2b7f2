package db

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/poolmeter/internal/errors"
)

// TestDefaultConfig tests the default database configuration.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "", cfg.Database)
	assert.Equal(t, "", cfg.Username)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
}

func TestConfig_DataSourceName(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{
			name: "postgres key value",
			cfg: Config{
				Host: "db.internal", Port: 5433, Database: "orders",
				Username: "app", Password: "secret", SSLMode: "require",
			},
			expected: "host=db.internal port=5433 dbname=orders user=app password=secret sslmode=require",
		},
		{
			name:     "explicit dsn wins",
			cfg:      Config{Driver: DriverPostgres, Host: "ignored", DSN: "postgres://app@localhost/orders"},
			expected: "postgres://app@localhost/orders",
		},
		{
			name:     "sqlite defaults to memory",
			cfg:      Config{Driver: DriverSQLite},
			expected: ":memory:",
		},
		{
			name:     "sqlite file",
			cfg:      Config{Driver: DriverSQLite, DSN: "/var/lib/poolmeter/cache.db"},
			expected: "/var/lib/poolmeter/cache.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.DataSourceName())
		})
	}
}

func TestConfig_DriverName(t *testing.T) {
	assert.Equal(t, DriverPostgres, (&Config{}).DriverName())
	assert.Equal(t, DriverPgx, (&Config{Driver: DriverPgx}).DriverName())
}

func TestPgxPoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverPgx
	cfg.Database = "orders"
	cfg.Username = "app"
	cfg.Password = "secret"
	cfg.MaxOpenConns = 12
	cfg.MinConns = 2
	cfg.ConnMaxLifetime = time.Hour
	cfg.ConnMaxIdleTime = 10 * time.Minute

	poolConfig, err := PgxPoolConfig(&cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), poolConfig.MaxConns)
	assert.Equal(t, int32(2), poolConfig.MinConns)
	assert.Equal(t, time.Hour, poolConfig.MaxConnLifetime)
	assert.Equal(t, 10*time.Minute, poolConfig.MaxConnIdleTime)
	assert.Equal(t, "orders", poolConfig.ConnConfig.Database)
	assert.Equal(t, "app", poolConfig.ConnConfig.User)
}

func TestPgxPoolConfig_ClampsSizes(t *testing.T) {
	cfg := Config{Driver: DriverPgx, DSN: "postgres://app@localhost/orders", MaxOpenConns: math.MaxInt32 + 1, MinConns: 1 << 40}

	poolConfig, err := PgxPoolConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), poolConfig.MaxConns)
	assert.Equal(t, int32(math.MaxInt32), poolConfig.MinConns)
}

func TestPgxPoolConfig_Invalid(t *testing.T) {
	cfg := Config{Driver: DriverPgx, DSN: "postgres://app@localhost:notaport/orders"}

	_, err := PgxPoolConfig(&cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "orders", &Config{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}
