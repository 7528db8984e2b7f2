// Package poolmetrics wires connection pool statistics into a Prometheus
// registry. Bind registers metadata gauges for every named pool in one sweep;
// Instrumentor attaches a metrics tracker to pools as the host constructs them.
package poolmetrics

import (
	"math"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/metadata"
)

const (
	// Metric naming: db_connections_<metric>{name="<display name>"}
	namespace = "db"
	subsystem = "connections"
	labelName = "name"

	dataSourceSuffix = "dataSource"
)

// DisplayName derives the metric label for a pool registered under name by
// stripping a trailing "dataSource" (any case). A name that is exactly the
// suffix is kept so the label is never empty.
func DisplayName(name string) string {
	if len(name) > len(dataSourceSuffix) &&
		strings.EqualFold(name[len(name)-len(dataSourceSuffix):], dataSourceSuffix) {
		return name[:len(name)-len(dataSourceSuffix)]
	}
	return name
}

// Bind registers metadata gauges for each pool in reg. Pools no provider
// supports get no gauges. The first registration failure is returned.
func Bind[P any](pools map[string]P, providers metadata.Providers, reg prometheus.Registerer) error {
	if len(providers) == 0 {
		return nil
	}

	names := make([]string, 0, len(pools))
	for name := range pools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := NewPoolMetrics(pools[name], providers, DisplayName(name), nil)
		if err := m.BindTo(reg); err != nil {
			return err
		}
	}
	return nil
}

// PoolMetrics exposes the metadata of one pool as gauges.
type PoolMetrics struct {
	pool      any
	name      string
	labels    prometheus.Labels
	providers metadata.Providers
}

// NewPoolMetrics creates the gauge adapter for pool. labels are added to
// every gauge next to the name label.
func NewPoolMetrics(pool any, providers metadata.Providers, name string, labels prometheus.Labels) *PoolMetrics {
	constLabels := prometheus.Labels{labelName: name}
	for k, v := range labels {
		constLabels[k] = v
	}
	return &PoolMetrics{
		pool:      pool,
		name:      name,
		labels:    constLabels,
		providers: providers,
	}
}

// BindTo registers the active, idle, max and min gauges the pool's metadata
// can report.
func (m *PoolMetrics) BindTo(reg prometheus.Registerer) error {
	md := m.providers.Metadata(m.pool)
	if md == nil {
		return nil
	}

	gauges := []struct {
		metric string
		help   string
		value  func() (int, bool)
	}{
		{"active", "Current number of active connections that have been allocated from the pool", md.Active},
		{"idle", "Number of established but idle connections", md.Idle},
		{"max", "Maximum number of active connections that can be allocated at the same time", md.Max},
		{"min", "Minimum number of idle connections in the pool", md.Min},
	}

	for _, g := range gauges {
		if _, ok := g.value(); !ok {
			continue
		}
		if err := reg.Register(m.gauge(g.metric, g.help, g.value)); err != nil {
			return errors.WrapMetricsError(errors.CodeMetricsRegistration, "Failed to register pool gauge", m.name, err).
				WithMetric(prometheus.BuildFQName(namespace, subsystem, g.metric))
		}
	}
	return nil
}

func (m *PoolMetrics) gauge(metric, help string, value func() (int, bool)) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        metric,
			Help:        help,
			ConstLabels: m.labels,
		},
		func() float64 {
			v, ok := value()
			if !ok {
				return math.NaN()
			}
			return float64(v)
		},
	)
}
