package db

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metrics"
)

// recordingFactory counts tracker creations and events.
type recordingFactory struct {
	mu       sync.Mutex
	created  int
	acquired int
	used     int
	timeouts int
	closed   int
	err      error
}

func (f *recordingFactory) Create(string, metrics.PoolStatsFunc) (metrics.Tracker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	return &recordingTracker{f: f}, nil
}

type recordingTracker struct{ f *recordingFactory }

func (t *recordingTracker) RecordConnectionAcquired(time.Duration) { t.inc(&t.f.acquired) }
func (t *recordingTracker) RecordConnectionUsage(time.Duration)    { t.inc(&t.f.used) }
func (t *recordingTracker) RecordConnectionTimeout()               { t.inc(&t.f.timeouts) }
func (t *recordingTracker) Close()                                 { t.inc(&t.f.closed) }

func (t *recordingTracker) inc(n *int) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	*n++
}

func openSQLite(t *testing.T, maxOpen int) *Pool {
	t.Helper()
	pool, err := Open(context.Background(), "cache", &Config{Driver: DriverSQLite, MaxOpenConns: maxOpen})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestOpen_SQLite(t *testing.T) {
	pool := openSQLite(t, 3)

	assert.Equal(t, "cache", pool.Name())
	assert.NotEqual(t, pool.ID().String(), "00000000-0000-0000-0000-000000000000")
	assert.NoError(t, pool.Ping(context.Background()))
	assert.Equal(t, 3, pool.Stats().MaxOpenConnections)
	assert.Nil(t, pool.MetricsTrackerFactory())
	assert.Nil(t, pool.MetricRegistry())
}

func TestPool_AcquireRecordsEvents(t *testing.T) {
	pool := openSQLite(t, 2)
	factory := &recordingFactory{}
	require.NoError(t, pool.SetMetricsTrackerFactory(factory))
	assert.Same(t, factory, pool.MetricsTrackerFactory())

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().InUse)

	require.NoError(t, conn.Release())
	require.NoError(t, conn.Release(), "second release is a no-op")

	assert.Equal(t, 1, factory.created)
	assert.Equal(t, 1, factory.acquired)
	assert.Equal(t, 1, factory.used)
}

func TestPool_AcquireTimeout(t *testing.T) {
	pool := openSQLite(t, 1)
	factory := &recordingFactory{}
	require.NoError(t, pool.SetMetricsTrackerFactory(factory))

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, factory.timeouts)
}

func TestPool_MetricsBindOnce(t *testing.T) {
	pool := openSQLite(t, 1)

	first := &recordingFactory{}
	require.NoError(t, pool.SetMetricsTrackerFactory(first))

	err := pool.SetMetricsTrackerFactory(&recordingFactory{})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyInstrumented))

	err = pool.SetMetricRegistry(prometheus.NewRegistry())
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyInstrumented))

	assert.Same(t, first, pool.MetricsTrackerFactory())
	assert.Nil(t, pool.MetricRegistry())
}

func TestPool_ConcurrentBindSingleWinner(t *testing.T) {
	pool := openSQLite(t, 1)

	const attempts = 32
	factory := &recordingFactory{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.SetMetricsTrackerFactory(factory); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, factory.created)
}

func TestPool_SetMetricRegistry(t *testing.T) {
	pool := openSQLite(t, 4)
	reg := prometheus.NewRegistry()

	require.NoError(t, pool.SetMetricRegistry(reg))
	assert.Equal(t, prometheus.Registerer(reg), pool.MetricRegistry())
	assert.Nil(t, pool.MetricsTrackerFactory())

	count, err := testutil.GatherAndCount(reg, "pool_connections_max")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, pool.Close())
	count, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, count, "closing the pool unregisters its tracker")
}

func TestPool_NilBindingsRejected(t *testing.T) {
	pool := openSQLite(t, 1)

	assert.True(t, errors.IsCode(pool.SetMetricsTrackerFactory(nil), errors.CodeValidation))
	assert.True(t, errors.IsCode(pool.SetMetricRegistry(nil), errors.CodeValidation))
	assert.Nil(t, pool.MetricsTrackerFactory(), "rejected bindings leave the pool unbound")
}

func TestPool_TrackerCreationFailureKeepsBinding(t *testing.T) {
	pool := openSQLite(t, 1)
	failing := &recordingFactory{err: assert.AnError}

	err := pool.SetMetricsTrackerFactory(failing)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMetricsRegistration))
	assert.Same(t, failing, pool.MetricsTrackerFactory())

	// Acquire still works with the no-op tracker.
	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Release())
}

func TestPool_PingWithSQLMock(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	pool := NewPool("orders", sqlx.NewDb(mockDB, "sqlmock"))

	mock.ExpectPing()
	assert.NoError(t, pool.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.ErrorIs(t, pool.Ping(context.Background()), assert.AnError)

	mock.ExpectClose()
	require.NoError(t, pool.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoggingPool(t *testing.T) {
	pool := openSQLite(t, 1)
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelDebug}, &buf)

	wrapped := NewLoggingPool(pool, 0, logger)
	assert.Same(t, pool, wrapped.Unwrap())
	assert.NoError(t, wrapped.Ping(context.Background()))

	conn, err := wrapped.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	assert.Contains(t, buf.String(), "Slow connection acquire")
	assert.Contains(t, buf.String(), "pool=cache")
}

type pingOnly struct{ err error }

func (p pingOnly) Ping(context.Context) error { return p.err }

func TestCheck(t *testing.T) {
	t.Run("pool round trip is tracked", func(t *testing.T) {
		pool := openSQLite(t, 1)
		factory := &recordingFactory{}
		require.NoError(t, pool.SetMetricsTrackerFactory(factory))

		require.NoError(t, Check(context.Background(), pool))
		assert.Equal(t, 1, factory.acquired)
		assert.Equal(t, 1, factory.used)
		assert.Equal(t, 0, pool.Stats().InUse, "connection is released")
	})

	t.Run("logging pool logs slow acquire", func(t *testing.T) {
		pool := openSQLite(t, 1)
		var buf bytes.Buffer
		logger := logging.NewWithWriter(logging.Config{Level: logging.LevelDebug}, &buf)

		require.NoError(t, Check(context.Background(), NewLoggingPool(pool, 0, logger)))
		assert.Contains(t, buf.String(), "Slow connection acquire")
	})

	t.Run("exhausted pool times out", func(t *testing.T) {
		pool := openSQLite(t, 1)
		factory := &recordingFactory{}
		require.NoError(t, pool.SetMetricsTrackerFactory(factory))

		held, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer held.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = Check(ctx, pool)
		assert.True(t, errors.IsCode(err, errors.CodeDatabaseTimeout))
		assert.Equal(t, 1, factory.timeouts)
	})

	t.Run("other sources are pinged", func(t *testing.T) {
		assert.NoError(t, Check(context.Background(), pingOnly{}))
		assert.ErrorIs(t, Check(context.Background(), pingOnly{err: assert.AnError}), assert.AnError)
	})
}

func TestOpenSource(t *testing.T) {
	ctx := context.Background()

	plain, err := OpenSource(ctx, "cache", &Config{Driver: DriverSQLite}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Pool{}, plain)
	_ = plain.(*Pool).Close()

	wrapped, err := OpenSource(ctx, "cache", &Config{Driver: DriverSQLite, SlowAcquireThreshold: time.Second}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LoggingPool{}, wrapped)
	_ = wrapped.(*LoggingPool).Close()
}
