package metrics

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Subsystem for all pool tracker metrics
	subsystemPool = "pool"

	// Label carrying the pool name
	labelPool = "pool"
)

// NewRegistry creates a Prometheus registry with the standard Go and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// PoolTrackerFactory creates Prometheus-backed trackers registered in a
// shared registerer.
type PoolTrackerFactory struct {
	registerer prometheus.Registerer
}

var _ TrackerFactory = (*PoolTrackerFactory)(nil)

// NewPoolTrackerFactory returns a factory bound to registerer. A nil
// registerer falls back to the Prometheus default registerer.
func NewPoolTrackerFactory(registerer prometheus.Registerer) *PoolTrackerFactory {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PoolTrackerFactory{registerer: registerer}
}

// Registerer returns the registerer trackers are registered in.
func (f *PoolTrackerFactory) Registerer() prometheus.Registerer {
	return f.registerer
}

// Create registers the collectors for poolName. On failure nothing stays
// registered.
func (f *PoolTrackerFactory) Create(poolName string, stats PoolStatsFunc) (Tracker, error) {
	t := newPoolTracker(poolName, stats)

	registered := make([]prometheus.Collector, 0, len(t.collectors()))
	for _, c := range t.collectors() {
		if err := f.registerer.Register(c); err != nil {
			for _, done := range registered {
				f.registerer.Unregister(done)
			}
			return nil, fmt.Errorf("register tracker metrics for pool %q: %w", poolName, err)
		}
		registered = append(registered, c)
	}

	t.registerer = f.registerer
	return t, nil
}

// PoolTracker holds the Prometheus collectors of a single pool.
type PoolTracker struct {
	registerer prometheus.Registerer
	closeOnce  sync.Once

	connections     prometheus.GaugeFunc
	idle            prometheus.GaugeFunc
	active          prometheus.GaugeFunc
	max             prometheus.GaugeFunc
	waits           prometheus.CounterFunc
	acquireDuration prometheus.Histogram
	usageDuration   prometheus.Histogram
	timeouts        prometheus.Counter
}

func newPoolTracker(poolName string, stats PoolStatsFunc) *PoolTracker {
	labels := prometheus.Labels{labelPool: poolName}

	gauge := func(name, help string, value func(s sql.DBStats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Subsystem:   subsystemPool,
				Name:        name,
				Help:        help,
				ConstLabels: labels,
			},
			func() float64 { return float64(value(stats())) },
		)
	}

	return &PoolTracker{
		connections: gauge("connections", "Number of established connections in the pool",
			func(s sql.DBStats) int { return s.OpenConnections }),
		idle: gauge("connections_idle", "Number of idle connections in the pool",
			func(s sql.DBStats) int { return s.Idle }),
		active: gauge("connections_active", "Number of connections currently in use",
			func(s sql.DBStats) int { return s.InUse }),
		max: gauge("connections_max", "Maximum number of open connections, 0 means unlimited",
			func(s sql.DBStats) int { return s.MaxOpenConnections }),
		waits: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Subsystem:   subsystemPool,
				Name:        "connections_wait_total",
				Help:        "Total number of connection requests that had to wait",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().WaitCount) },
		),
		acquireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem:   subsystemPool,
				Name:        "connections_acquire_seconds",
				Help:        "Time spent waiting for a connection",
				ConstLabels: labels,
				Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),
		usageDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem:   subsystemPool,
				Name:        "connections_usage_seconds",
				Help:        "Time a connection was held before being released",
				ConstLabels: labels,
				Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
			},
		),
		timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem:   subsystemPool,
				Name:        "connections_timeout_total",
				Help:        "Total number of connection acquire timeouts",
				ConstLabels: labels,
			},
		),
	}
}

func (t *PoolTracker) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		t.connections,
		t.idle,
		t.active,
		t.max,
		t.waits,
		t.acquireDuration,
		t.usageDuration,
		t.timeouts,
	}
}

// RecordConnectionAcquired records the time spent waiting for a connection.
func (t *PoolTracker) RecordConnectionAcquired(elapsed time.Duration) {
	t.acquireDuration.Observe(elapsed.Seconds())
}

// RecordConnectionUsage records how long a connection was held.
func (t *PoolTracker) RecordConnectionUsage(elapsed time.Duration) {
	t.usageDuration.Observe(elapsed.Seconds())
}

// RecordConnectionTimeout counts an acquire that gave up.
func (t *PoolTracker) RecordConnectionTimeout() {
	t.timeouts.Inc()
}

// Close unregisters the tracker's collectors.
func (t *PoolTracker) Close() {
	t.closeOnce.Do(func() {
		if t.registerer == nil {
			return
		}
		for _, c := range t.collectors() {
			t.registerer.Unregister(c)
		}
	})
}
