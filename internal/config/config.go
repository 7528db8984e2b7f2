// Package config loads the poolmeter configuration file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/poolmeter/internal/db"
	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/logging"
)

const (
	defaultMetricsPort     = 9187
	defaultShutdownTimeout = 10 * time.Second
)

// Config represents the complete poolmeter configuration
type Config struct {
	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`

	// Data sources keyed by pool name
	DataSources map[string]db.Config `yaml:"data_sources" json:"data_sources" mapstructure:"data_sources" validate:"dive"`
}

// MetricsConfig holds metrics exposition settings
type MetricsConfig struct {
	// Serve the HTTP endpoints
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" mapstructure:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port" mapstructure:"port" validate:"min=0,max=65535"`

	// Path of the scrape endpoint
	Path string `yaml:"path" json:"path" mapstructure:"path" validate:"omitempty,startswith=/"`

	// Attach a tracker to every pool as it is opened
	InstrumentPools bool `yaml:"instrument_pools" json:"instrument_pools" mapstructure:"instrument_pools"`

	// Cron schedule for the periodic pool report; empty disables it
	ReportSchedule string `yaml:"report_schedule" json:"report_schedule" mapstructure:"report_schedule"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:         true,
			ListenAddr:      "127.0.0.1",
			Port:            defaultMetricsPort,
			Path:            "/metrics",
			InstrumentPools: true,
			ReportSchedule:  "",
			ShutdownTimeout: defaultShutdownTimeout,
		},
		DataSources: map[string]db.Config{},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "Failed to read config file", err)
	}

	// yaml.v3 also reads JSON.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("Failed to parse config (%s)", filepath.Ext(path)), err)
	}

	config.applyDataSourceDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDataSourceDefaults fills zero-valued pool settings from
// db.DefaultConfig. Sizes are left alone so zero keeps its driver meaning.
func (c *Config) applyDataSourceDefaults() {
	defaults := db.DefaultConfig()
	for name, ds := range c.DataSources {
		if ds.Driver == "" {
			ds.Driver = defaults.Driver
		}
		if ds.Driver != db.DriverSQLite {
			if ds.Host == "" && ds.DSN == "" {
				ds.Host = defaults.Host
			}
			if ds.Port == 0 {
				ds.Port = defaults.Port
			}
			if ds.SSLMode == "" {
				ds.SSLMode = defaults.SSLMode
			}
		}
		if ds.ConnMaxLifetime == 0 {
			ds.ConnMaxLifetime = defaults.ConnMaxLifetime
		}
		if ds.ConnMaxIdleTime == 0 {
			ds.ConnMaxIdleTime = defaults.ConnMaxIdleTime
		}
		c.DataSources[name] = ds
	}
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			cfgErr := errors.ErrConfigInvalid(fe.Namespace(), fe.Value())
			cfgErr.Cause = err
			return cfgErr
		}
		return errors.WrapConfigError(errors.CodeValidation, "Invalid configuration", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.ListenAddr == "" {
			return errors.ErrConfigMissing("metrics.listen_addr")
		}
		if c.Metrics.Port == 0 {
			return errors.ErrConfigInvalid("metrics.port", c.Metrics.Port)
		}
	}

	if c.Metrics.ReportSchedule != "" {
		if _, err := cron.ParseStandard(c.Metrics.ReportSchedule); err != nil {
			cfgErr := errors.ErrConfigInvalid("metrics.report_schedule", c.Metrics.ReportSchedule)
			cfgErr.Cause = err
			return cfgErr
		}
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	for _, name := range c.DataSourceNames() {
		if err := validateDataSource(name, c.DataSources[name]); err != nil {
			return err
		}
	}

	return nil
}

func validateDataSource(name string, cfg db.Config) error {
	if name == "" {
		return errors.ErrConfigMissing("data_sources.<name>")
	}
	if cfg.DSN != "" || cfg.DriverName() == db.DriverSQLite {
		return nil
	}
	if cfg.Host == "" {
		return errors.ErrConfigMissing(fmt.Sprintf("data_sources.%s.host", name))
	}
	if cfg.Database == "" {
		return errors.ErrConfigMissing(fmt.Sprintf("data_sources.%s.database", name))
	}
	return nil
}

// DataSourceNames returns the configured pool names in sorted order.
func (c *Config) DataSourceNames() []string {
	names := make([]string, 0, len(c.DataSources))
	for name := range c.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetMetricsAddress returns the full metrics listen address
func (c *Config) GetMetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Metrics.ListenAddr, c.Metrics.Port)
}
