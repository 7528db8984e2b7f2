package db

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/metrics"
)

// Source is anything that can be health checked. All pools opened by this
// package satisfy it.
type Source interface {
	Ping(ctx context.Context) error
}

// Acquirer hands out dedicated connections. Pool and LoggingPool satisfy it.
type Acquirer interface {
	Acquire(ctx context.Context) (*Conn, error)
}

// Check verifies that source can serve a connection. An Acquirer is checked
// on a dedicated connection that is released afterwards; other sources are
// pinged.
func Check(ctx context.Context, source Source) error {
	acquirer, ok := source.(Acquirer)
	if !ok {
		return source.Ping(ctx)
	}

	conn, err := acquirer.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Release()
		return err
	}
	return conn.Release()
}

// Pool wraps sqlx.DB with a pool name and an optional metrics binding.
type Pool struct {
	*sqlx.DB
	name    string
	id      uuid.UUID
	binding atomic.Pointer[metricsBinding]
}

// metricsBinding is set at most once per pool. Exactly one of factory and
// registry is non-nil.
type metricsBinding struct {
	factory  metrics.TrackerFactory
	registry prometheus.Registerer
	tracker  atomic.Pointer[trackerHolder]
}

type trackerHolder struct {
	metrics.Tracker
}

// NewPool wraps an existing sqlx handle.
func NewPool(name string, db *sqlx.DB) *Pool {
	return &Pool{
		DB:   db,
		name: name,
		id:   uuid.New(),
	}
}

// Name returns the pool name given at construction.
func (p *Pool) Name() string {
	return p.name
}

// ID returns a per-process identifier for the pool.
func (p *Pool) ID() uuid.UUID {
	return p.id
}

// Ping verifies a connection to the database is still alive.
func (p *Pool) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// MetricsTrackerFactory returns the factory set with SetMetricsTrackerFactory.
func (p *Pool) MetricsTrackerFactory() metrics.TrackerFactory {
	if b := p.binding.Load(); b != nil {
		return b.factory
	}
	return nil
}

// MetricRegistry returns the registerer set with SetMetricRegistry.
func (p *Pool) MetricRegistry() prometheus.Registerer {
	if b := p.binding.Load(); b != nil {
		return b.registry
	}
	return nil
}

// SetMetricsTrackerFactory attaches factory and creates the pool's tracker.
// A pool accepts one metrics binding over its lifetime; later calls return
// an ALREADY_INSTRUMENTED error.
func (p *Pool) SetMetricsTrackerFactory(factory metrics.TrackerFactory) error {
	if factory == nil {
		return errors.NewMetricsError(errors.CodeValidation, "Tracker factory is nil", p.name)
	}
	return p.bind(&metricsBinding{factory: factory}, factory)
}

// SetMetricRegistry attaches a registerer and tracks the pool with the
// default Prometheus tracker factory.
func (p *Pool) SetMetricRegistry(registry prometheus.Registerer) error {
	if registry == nil {
		return errors.NewMetricsError(errors.CodeValidation, "Metric registry is nil", p.name)
	}
	return p.bind(&metricsBinding{registry: registry}, metrics.NewPoolTrackerFactory(registry))
}

func (p *Pool) bind(b *metricsBinding, factory metrics.TrackerFactory) error {
	if !p.binding.CompareAndSwap(nil, b) {
		return errors.ErrAlreadyInstrumented(p.name)
	}

	tracker, err := factory.Create(p.name, p.DB.Stats)
	if err != nil {
		return errors.WrapMetricsError(errors.CodeMetricsRegistration, "Failed to create metrics tracker", p.name, err)
	}
	b.tracker.Store(&trackerHolder{Tracker: tracker})
	return nil
}

func (p *Pool) tracker() metrics.Tracker {
	if b := p.binding.Load(); b != nil {
		if h := b.tracker.Load(); h != nil {
			return h.Tracker
		}
	}
	return metrics.NoopTracker{}
}

// Acquire takes a dedicated connection from the pool. The caller must call
// Release on the returned connection.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	conn, err := p.DB.Connx(ctx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			p.tracker().RecordConnectionTimeout()
			return nil, &errors.DatabaseError{
				Code:      errors.CodeDatabaseTimeout,
				Message:   "Timed out waiting for a connection",
				Pool:      p.name,
				Operation: "acquire",
				Cause:     err,
			}
		}
		return nil, &errors.DatabaseError{
			Code:      errors.CodeDatabaseConnection,
			Message:   "Failed to acquire connection",
			Pool:      p.name,
			Operation: "acquire",
			Cause:     err,
		}
	}

	p.tracker().RecordConnectionAcquired(time.Since(start))
	return &Conn{Conn: conn, pool: p, acquiredAt: time.Now()}, nil
}

// Close releases the tracker and closes the underlying pool.
func (p *Pool) Close() error {
	p.tracker().Close()
	return p.DB.Close()
}

// Conn is a connection checked out of a Pool.
type Conn struct {
	*sqlx.Conn
	pool       *Pool
	acquiredAt time.Time
	release    sync.Once
}

// Release returns the connection to the pool. Extra calls are no-ops.
func (c *Conn) Release() error {
	var err error
	c.release.Do(func() {
		c.pool.tracker().RecordConnectionUsage(time.Since(c.acquiredAt))
		err = c.Conn.Close()
	})
	return err
}
