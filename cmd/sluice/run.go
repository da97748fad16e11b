package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sluice/pkg/cli"
	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits"
	"mercator-hq/sluice/pkg/server"
	"mercator-hq/sluice/pkg/telemetry/logging"
	"mercator-hq/sluice/pkg/telemetry/metrics"
	"mercator-hq/sluice/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noWatch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission coordinator and admin server",
	Long: `Start the admission coordinator and its admin HTTP server.

The server exposes health probes, Prometheus metrics and the /v1 admission
and quota API. Quota defaults and caller overrides are reloaded when the
configuration file changes or the process receives SIGHUP.

Examples:
  # Start with default config
  sluice run

  # Start with custom config
  sluice run --config /etc/sluice/config.yaml

  # Override listen address
  sluice run --listen 0.0.0.0:8090

  # Validate config without starting
  sluice run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "do not reload quotas when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	if runFlags.listenAddress != "" {
		cfg.Admin.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	logger, err := newLogger(cfg.Telemetry.Logging)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	tracer, err := tracing.New(cfg.Telemetry.Tracing,
		tracing.WithServiceVersion(Version),
		tracing.WithGlobal(),
	)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	registry := metrics.NewRegistry()

	coord, err := limits.New(cfg.Throttle, limits.Options{
		Logger:     logger,
		Registerer: registry,
		Tracer:     tracer.Tracer(),
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if err := coord.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := coord.Stop(); err != nil && !errors.Is(err, limits.ErrNotStarted) {
			logger.Error("coordinator stop failed", "error", err)
		}
	}()

	fmt.Fprintf(out, "Mercator Sluice v%s\n", Version)
	fmt.Fprintf(out, "✓ Configuration loaded from %s\n", cfgFile)
	fmt.Fprintf(out, "✓ Coordinator started (%d resources, storage: %s)\n",
		len(cfg.Throttle.Resources), cfg.Throttle.Storage.Backend)

	if !runFlags.noWatch {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path:     cfgFile,
			OnChange: func(next *config.Config) { coord.ApplyQuotaConfig(next.Throttle.Quota) },
			Logger:   logging.Component(logger, "config"),
		})
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	hup, stopHUP := cli.ReloadSignals()
	defer stopHUP()
	go reloadOnSignal(ctx, hup, coord, logger)

	srv := server.New(cfg, coord, server.Options{
		Logger:   logger,
		Gatherer: registry,
		Version:  versionInfo(),
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	if err := waitForListen(srv, errChan, 5*time.Second); err != nil {
		return cli.NewCommandError("run", err)
	}

	addr := srv.Addr().String()
	fmt.Fprintf(out, "✓ Admin server listening on %s\n", addr)
	fmt.Fprintf(out, "✓ Readiness: http://%s%s\n", addr, cfg.Telemetry.Health.ReadinessPath)
	if !cfg.Telemetry.Metrics.Disabled {
		fmt.Fprintf(out, "✓ Metrics: http://%s%s\n", addr, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := <-errChan; err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	return logging.New(logging.Config{
		Level:         cfg.Level,
		Format:        cfg.Format,
		AddSource:     cfg.AddSource,
		RedactCallers: cfg.RedactCallers,
		Writer:        os.Stderr,
	})
}

// reloadOnSignal re-reads the config file on SIGHUP and applies its quota
// section. Other sections require a restart.
func reloadOnSignal(ctx context.Context, hup <-chan os.Signal, coord *limits.Coordinator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
			if err != nil {
				logger.Error("reload failed, keeping previous quotas", "error", err)
				continue
			}
			coord.ApplyQuotaConfig(cfg.Throttle.Quota)
			logger.Info("quotas reloaded", "path", cfgFile)
		}
	}
}

// waitForListen polls until the server has bound its listener or Start
// has returned.
func waitForListen(srv *server.Server, errChan <-chan error, timeout time.Duration) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for srv.Addr() == nil {
		select {
		case err := <-errChan:
			if err == nil {
				return errors.New("server stopped before listening")
			}
			return err
		case <-timer.C:
			return fmt.Errorf("server did not start within %s", timeout)
		case <-ticker.C:
		}
	}
	return nil
}
