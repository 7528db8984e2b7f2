package poolmetrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anstrom/poolmeter/internal/db"
	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metrics"
	"github.com/anstrom/poolmeter/internal/proxy"
)

//go:generate mockgen -destination=mocks/mock_registry_source.go -package=mocks github.com/anstrom/poolmeter/internal/poolmetrics RegistrySource

// RegistrySource looks up the shared metrics registry.
type RegistrySource interface {
	MetricsRegistry() (prometheus.Registerer, error)
}

// StaticRegistry is a RegistrySource that always returns the same registerer.
type StaticRegistry struct {
	Registerer prometheus.Registerer
}

// MetricsRegistry returns s.Registerer.
func (s StaticRegistry) MetricsRegistry() (prometheus.Registerer, error) {
	if s.Registerer == nil {
		return nil, errors.NewMetricsError(errors.CodeRegistryUnavailable, "No metrics registry configured", "")
	}
	return s.Registerer, nil
}

// Instrumentor attaches a Prometheus tracker factory to every *db.Pool it
// intercepts, at most once per pool. It never fails the resource.
type Instrumentor struct {
	registries RegistrySource
	logger     *logging.Logger
}

// NewInstrumentor creates an Instrumentor. A nil logger uses the default.
func NewInstrumentor(registries RegistrySource, logger *logging.Logger) *Instrumentor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Instrumentor{
		registries: registries,
		logger:     logger.WithComponent("poolmetrics"),
	}
}

// Intercept is called once for each resource the host constructs and always
// returns resource unchanged.
func (i *Instrumentor) Intercept(name string, resource any) any {
	if _, ok := resource.(db.Source); !ok {
		return resource
	}
	pool, ok := proxy.Unwrap[*db.Pool](resource)
	if !ok || pool == nil {
		return resource
	}
	if pool.MetricRegistry() != nil || pool.MetricsTrackerFactory() != nil {
		return resource
	}

	reg, err := i.lookupRegistry()
	if err != nil {
		i.logger.Warn("Failed to bind pool metrics", "resource", name, "error", err)
		return resource
	}

	err = pool.SetMetricsTrackerFactory(metrics.NewPoolTrackerFactory(reg))
	switch {
	case err == nil:
		i.logger.Debug("Bound pool metrics", "resource", name, "pool", pool.Name())
	case errors.IsCode(err, errors.CodeAlreadyInstrumented):
		// Another path won the race.
	default:
		i.logger.Warn("Failed to bind pool metrics", "resource", name, "error", err)
	}
	return resource
}

func (i *Instrumentor) lookupRegistry() (reg prometheus.Registerer, err error) {
	defer func() {
		if r := recover(); r != nil {
			reg = nil
			err = errors.NewMetricsError(errors.CodeRegistryUnavailable, fmt.Sprintf("Registry lookup panicked: %v", r), "")
		}
	}()

	if i.registries == nil {
		return nil, errors.NewMetricsError(errors.CodeRegistryUnavailable, "No registry source", "")
	}
	reg, err = i.registries.MetricsRegistry()
	if err != nil {
		return nil, errors.WrapMetricsError(errors.CodeRegistryUnavailable, "Metrics registry unavailable", "", err)
	}
	if reg == nil {
		return nil, errors.NewMetricsError(errors.CodeRegistryUnavailable, "Metrics registry unavailable", "")
	}
	return reg, nil
}
