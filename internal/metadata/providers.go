package metadata

import (
	"database/sql"
	"reflect"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/anstrom/poolmeter/internal/db"
	"github.com/anstrom/poolmeter/internal/proxy"
)

// statser is satisfied by *sql.DB, *sqlx.DB and *db.Pool.
type statser interface {
	Stats() sql.DBStats
}

// SQLProvider reports database/sql pool statistics.
type SQLProvider struct{}

// Metadata supports anything exposing sql.DBStats, directly or behind a
// proxy.Wrapper.
func (SQLProvider) Metadata(pool any) PoolMetadata {
	s, ok := proxy.Unwrap[statser](pool)
	if !ok || !hasHandle(s) {
		return nil
	}
	return sqlMetadata{stats: s}
}

// hasHandle reports whether Stats can be called on s without a nil
// dereference.
func hasHandle(s statser) bool {
	switch v := s.(type) {
	case *sql.DB:
		return v != nil
	case *sqlx.DB:
		return v != nil && v.DB != nil
	case *db.Pool:
		return v != nil && v.DB != nil && v.DB.DB != nil
	}
	rv := reflect.ValueOf(s)
	return rv.Kind() != reflect.Pointer || !rv.IsNil()
}

type sqlMetadata struct {
	stats statser
}

func (m sqlMetadata) Active() (int, bool) { return m.stats.Stats().InUse, true }
func (m sqlMetadata) Idle() (int, bool)   { return m.stats.Stats().Idle, true }

// Max is unknown when the pool is unbounded.
func (m sqlMetadata) Max() (int, bool) {
	maxOpen := m.stats.Stats().MaxOpenConnections
	return maxOpen, maxOpen > 0
}

// database/sql has no minimum pool size.
func (m sqlMetadata) Min() (int, bool) { return 0, false }

// PgxProvider reports pgxpool statistics.
type PgxProvider struct{}

// Metadata supports *pgxpool.Pool, directly or behind a proxy.Wrapper.
func (PgxProvider) Metadata(pool any) PoolMetadata {
	p, ok := proxy.Unwrap[*pgxpool.Pool](pool)
	if !ok || p == nil {
		return nil
	}
	return pgxMetadata{pool: p}
}

type pgxMetadata struct {
	pool *pgxpool.Pool
}

func (m pgxMetadata) Active() (int, bool) { return int(m.pool.Stat().AcquiredConns()), true }
func (m pgxMetadata) Idle() (int, bool)   { return int(m.pool.Stat().IdleConns()), true }
func (m pgxMetadata) Max() (int, bool)    { return int(m.pool.Stat().MaxConns()), true }
func (m pgxMetadata) Min() (int, bool)    { return int(m.pool.Config().MinConns), true }
