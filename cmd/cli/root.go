// Package cli provides the poolmeter command-line interface.
// It implements the Cobra-based command tree for serving pool metrics
// and inspecting the configured connection pools.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/poolmeter/internal/config"
	"github.com/anstrom/poolmeter/internal/errors"
	"github.com/anstrom/poolmeter/internal/logging"
)

const envPrefix = "POOLMETER"

// Process exit codes.
const (
	exitRuntime = 1
	exitFatal   = 2
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "poolmeter",
	Short: "Connection pool metrics exporter",
	Long: `Poolmeter opens the configured database connection pools, instruments
them as they are created and publishes their active, idle, max and min
connection counts as Prometheus gauges.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration and registration errors to exitFatal so
// supervisors can tell a broken setup from a failed run.
func exitCode(err error) int {
	if errors.IsFatal(err) {
		return exitFatal
	}
	return exitRuntime
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// POOLMETER_METRICS_PORT overrides metrics.port.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// setConfigDefaults mirrors config.Default for the keys viper may override.
func setConfigDefaults() {
	defaults := config.Default()

	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.listen_addr", defaults.Metrics.ListenAddr)
	viper.SetDefault("metrics.port", defaults.Metrics.Port)
	viper.SetDefault("metrics.path", defaults.Metrics.Path)
	viper.SetDefault("metrics.instrument_pools", defaults.Metrics.InstrumentPools)
	viper.SetDefault("metrics.report_schedule", defaults.Metrics.ReportSchedule)
	viper.SetDefault("metrics.shutdown_timeout", defaults.Metrics.ShutdownTimeout)

	viper.SetDefault("logging.level", string(defaults.Logging.Level))
	viper.SetDefault("logging.format", string(defaults.Logging.Format))
	viper.SetDefault("logging.output", defaults.Logging.Output)
}

// loadConfig loads the config file and applies flag and environment
// overrides on top. Precedence is flag, env, file, default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	cfg.Metrics.ListenAddr = viper.GetString("metrics.listen_addr")
	cfg.Metrics.Port = viper.GetInt("metrics.port")
	cfg.Metrics.Path = viper.GetString("metrics.path")
	cfg.Metrics.InstrumentPools = viper.GetBool("metrics.instrument_pools")
	cfg.Metrics.ReportSchedule = viper.GetString("metrics.report_schedule")
	cfg.Metrics.ShutdownTimeout = viper.GetDuration("metrics.shutdown_timeout")

	cfg.Logging.Level = logging.LogLevel(viper.GetString("logging.level"))
	cfg.Logging.Format = logging.LogFormat(viper.GetString("logging.format"))
	cfg.Logging.Output = viper.GetString("logging.output")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	logConfig := logging.Config{
		Level:  logging.LogLevel(viper.GetString("logging.level")),
		Format: logging.LogFormat(viper.GetString("logging.format")),
		Output: viper.GetString("logging.output"),
	}
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
