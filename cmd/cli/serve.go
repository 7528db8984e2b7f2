package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/poolmeter/internal/app"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/reporter"
	"github.com/anstrom/poolmeter/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the configured pools and serve their metrics",
	Long: `Open every configured data source, attach connection trackers, bind
pool gauges and serve /metrics, /health and /pools until interrupted.`,
	Example: `  poolmeter serve
  poolmeter serve --config /etc/poolmeter/config.yaml
  poolmeter serve --port 9300 --report-schedule "@every 1m"`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen-addr", "", "Metrics listen address")
	serveCmd.Flags().Int("port", 0, "Metrics listen port")
	serveCmd.Flags().String("report-schedule", "", "Cron schedule for the pool status log")
	serveCmd.Flags().Bool("instrument-pools", true, "Attach connection trackers to pools")

	for key, flag := range map[string]string{
		"metrics.listen_addr":      "listen-addr",
		"metrics.port":             "port",
		"metrics.report_schedule":  "report-schedule",
		"metrics.instrument_pools": "instrument-pools",
	} {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close data sources: %v\n", closeErr)
		}
	}()

	if cfg.Metrics.ReportSchedule != "" {
		rep, err := reporter.New(cfg.Metrics.ReportSchedule, application, logger)
		if err != nil {
			return err
		}
		if err := rep.Start(); err != nil {
			return err
		}
		defer rep.Stop()
	}

	if !cfg.Metrics.Enabled {
		logger.Info("Metrics endpoint disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	srv, err := server.New(cfg.Metrics, application, application.Registry(), logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s%s\n", cfg.GetMetricsAddress(), cfg.Metrics.Path)
	return srv.Start(ctx)
}
