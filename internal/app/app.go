// Package app assembles poolmeter: it opens the configured pools through the
// container, instruments them as they are registered and binds their
// metadata gauges to the shared registry.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anstrom/poolmeter/internal/config"
	"github.com/anstrom/poolmeter/internal/container"
	"github.com/anstrom/poolmeter/internal/db"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metadata"
	"github.com/anstrom/poolmeter/internal/metrics"
	"github.com/anstrom/poolmeter/internal/poolmetrics"
)

const (
	// RegistryName is the container name of the shared metrics registry.
	RegistryName = "meterRegistry"

	dataSourceSuffix = "DataSource"
)

// App owns the container, the registry and every opened pool.
type App struct {
	config    *config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	container *container.Container
	providers metadata.Providers
}

// Option configures an App.
type Option func(*App)

// WithRegistry replaces the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithProviders replaces the default metadata providers.
func WithProviders(providers metadata.Providers) Option {
	return func(a *App) { a.providers = providers }
}

// New opens every configured data source and binds its metrics. On error
// any pool already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{
		config:    cfg,
		logger:    logger.WithComponent("app"),
		container: container.New(),
		providers: metadata.DefaultProviders(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = metrics.NewRegistry()
	}

	if _, err := a.container.Register(RegistryName, a.registry); err != nil {
		return nil, err
	}

	if cfg.Metrics.InstrumentPools {
		instrumentor := poolmetrics.NewInstrumentor(registryLookup{a.container}, logger)
		a.container.AddHook(instrumentor.Intercept)
	}

	for _, name := range cfg.DataSourceNames() {
		dsCfg := cfg.DataSources[name]
		source, err := db.OpenSource(ctx, name, &dsCfg, logger)
		if err != nil {
			a.closeSources()
			return nil, err
		}
		if _, err := a.container.Register(name+dataSourceSuffix, source); err != nil {
			_ = closeSource(source)
			a.closeSources()
			return nil, err
		}
		a.logger.Info("Opened data source", "pool", name, "driver", dsCfg.DriverName())
	}

	if err := poolmetrics.Bind(a.Sources(), a.providers, a.registry); err != nil {
		a.closeSources()
		return nil, err
	}

	return a, nil
}

// registryLookup resolves the shared registry from the container on demand.
type registryLookup struct {
	c *container.Container
}

func (r registryLookup) MetricsRegistry() (prometheus.Registerer, error) {
	return container.Lookup[prometheus.Registerer](r.c)
}

// Registry returns the shared registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Gatherer returns the registry as a prometheus.Gatherer.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Container returns the application container.
func (a *App) Container() *container.Container {
	return a.container
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.config
}

// Sources returns every registered data source keyed by container name.
func (a *App) Sources() map[string]db.Source {
	return container.Named[db.Source](a.container)
}

// Snapshots returns the current metadata of every data source, sorted by
// display name.
func (a *App) Snapshots() []metadata.Snapshot {
	sources := a.Sources()
	snaps := make([]metadata.Snapshot, 0, len(sources))
	for name, source := range sources {
		snaps = append(snaps, metadata.TakeSnapshot(poolmetrics.DisplayName(name), source, a.providers))
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Close closes every data source and returns the joined errors.
func (a *App) Close() error {
	return a.closeSources()
}

func (a *App) closeSources() error {
	var errs []error
	for name, source := range a.Sources() {
		if err := closeSource(source); err != nil {
			a.logger.Warn("Failed to close data source", "resource", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return stderrors.Join(errs...)
}

func closeSource(source db.Source) error {
	switch s := source.(type) {
	case interface{ Close() error }:
		return s.Close()
	case interface{ Close() }:
		s.Close()
	}
	return nil
}
