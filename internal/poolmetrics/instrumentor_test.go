package poolmetrics

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/poolmeter/internal/db"
	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metrics"
	"github.com/anstrom/poolmeter/internal/poolmetrics/mocks"
)

func newTestPool(t *testing.T, name string) *db.Pool {
	t.Helper()
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return db.NewPool(name, sqlx.NewDb(mockDB, "sqlmock"))
}

func newCapturingLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logging.NewWithWriter(logging.Config{Level: logging.LevelDebug}, &buf), &buf
}

type otherSource struct{}

func (otherSource) Ping(context.Context) error { return nil }

func TestInstrumentor_PassThroughWithoutLookup(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockRegistrySource(ctrl)
	// No EXPECT: any lookup fails the test.

	instrumentor := NewInstrumentor(source, logging.Discard())

	tests := []struct {
		name     string
		resource any
	}{
		{"nil", nil},
		{"not a pool", "cache"},
		{"source of another kind", otherSource{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.resource, instrumentor.Intercept(tt.name, tt.resource))
		})
	}
}

func TestInstrumentor_BindsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockRegistrySource(ctrl)
	reg := prometheus.NewRegistry()
	source.EXPECT().MetricsRegistry().Return(reg, nil).Times(1)

	instrumentor := NewInstrumentor(source, logging.Discard())
	pool := newTestPool(t, "orders")

	assert.Same(t, pool, instrumentor.Intercept("ordersDataSource", pool))
	factory := pool.MetricsTrackerFactory()
	require.NotNil(t, factory)

	assert.Same(t, pool, instrumentor.Intercept("ordersDataSource", pool))
	assert.Same(t, factory, pool.MetricsTrackerFactory(), "second interception must not replace the tracker")

	count, err := testutil.GatherAndCount(reg, "pool_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInstrumentor_UnwrapsProxies(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockRegistrySource(ctrl)
	source.EXPECT().MetricsRegistry().Return(prometheus.NewRegistry(), nil)

	pool := newTestPool(t, "orders")
	wrapped := db.NewLoggingPool(pool, 0, logging.Discard())

	got := NewInstrumentor(source, logging.Discard()).Intercept("ordersDataSource", wrapped)
	assert.Same(t, wrapped, got)
	assert.NotNil(t, pool.MetricsTrackerFactory())
}

func TestInstrumentor_SkipsAlreadyInstrumented(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockRegistrySource(ctrl)

	withRegistry := newTestPool(t, "a")
	require.NoError(t, withRegistry.SetMetricRegistry(prometheus.NewRegistry()))

	withFactory := newTestPool(t, "b")
	factory := metrics.NewPoolTrackerFactory(prometheus.NewRegistry())
	require.NoError(t, withFactory.SetMetricsTrackerFactory(factory))

	instrumentor := NewInstrumentor(source, logging.Discard())
	instrumentor.Intercept("a", withRegistry)
	instrumentor.Intercept("b", withFactory)

	assert.Nil(t, withRegistry.MetricsTrackerFactory())
	assert.Same(t, factory, withFactory.MetricsTrackerFactory())
}

func TestInstrumentor_RegistryUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(source *mocks.MockRegistrySource)
	}{
		{
			name: "lookup error",
			setup: func(source *mocks.MockRegistrySource) {
				source.EXPECT().MetricsRegistry().Return(nil, fmt.Errorf("no registry bean"))
			},
		},
		{
			name: "nil registry",
			setup: func(source *mocks.MockRegistrySource) {
				source.EXPECT().MetricsRegistry().Return(nil, nil)
			},
		},
		{
			name: "lookup panics",
			setup: func(source *mocks.MockRegistrySource) {
				source.EXPECT().MetricsRegistry().DoAndReturn(func() (prometheus.Registerer, error) {
					panic("container closed")
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			source := mocks.NewMockRegistrySource(ctrl)
			tt.setup(source)

			logger, buf := newCapturingLogger()
			pool := newTestPool(t, "orders")

			var got any
			require.NotPanics(t, func() {
				got = NewInstrumentor(source, logger).Intercept("ordersDataSource", pool)
			})
			assert.Same(t, pool, got)
			assert.Nil(t, pool.MetricsTrackerFactory())
			assert.Contains(t, buf.String(), "level=WARN")
			assert.Contains(t, buf.String(), "Failed to bind pool metrics")
		})
	}
}

func TestInstrumentor_NilSource(t *testing.T) {
	logger, buf := newCapturingLogger()
	pool := newTestPool(t, "orders")

	assert.Same(t, pool, NewInstrumentor(nil, logger).Intercept("ordersDataSource", pool))
	assert.Contains(t, buf.String(), "Failed to bind pool metrics")
}

func TestInstrumentor_TrackerFailureIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockRegistrySource(ctrl)
	reg := prometheus.NewRegistry()
	source.EXPECT().MetricsRegistry().Return(reg, nil).Times(1)

	// Another pool with the same name already owns the tracker metrics.
	_, err := metrics.NewPoolTrackerFactory(reg).Create("orders", newTestPool(t, "orders").Stats)
	require.NoError(t, err)

	logger, buf := newCapturingLogger()
	instrumentor := NewInstrumentor(source, logger)
	pool := newTestPool(t, "orders")

	assert.Same(t, pool, instrumentor.Intercept("ordersDataSource", pool))
	assert.Contains(t, buf.String(), "Failed to bind pool metrics")
	assert.NotNil(t, pool.MetricsTrackerFactory())

	assert.Same(t, pool, instrumentor.Intercept("ordersDataSource", pool))
}

func TestInstrumentor_ConcurrentPools(t *testing.T) {
	reg := prometheus.NewRegistry()
	instrumentor := NewInstrumentor(StaticRegistry{Registerer: reg}, logging.Discard())

	const n = 16
	pools := make([]*db.Pool, n)
	for i := range pools {
		pools[i] = newTestPool(t, fmt.Sprintf("pool-%d", i))
	}

	var wg sync.WaitGroup
	for i, pool := range pools {
		i, pool := i, pool
		wg.Add(2)
		for j := 0; j < 2; j++ {
			go func() {
				defer wg.Done()
				instrumentor.Intercept(fmt.Sprintf("pool%dDataSource", i), pool)
			}()
		}
	}
	wg.Wait()

	for _, pool := range pools {
		assert.NotNil(t, pool.MetricsTrackerFactory())
	}
	count, err := testutil.GatherAndCount(reg, "pool_connections")
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestStaticRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	got, err := StaticRegistry{Registerer: reg}.MetricsRegistry()
	require.NoError(t, err)
	assert.Equal(t, prometheus.Registerer(reg), got)

	_, err = StaticRegistry{}.MetricsRegistry()
	assert.True(t, errors.IsCode(err, errors.CodeRegistryUnavailable))
}
