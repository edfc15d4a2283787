package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/cli"
	"modelbench/gatekeeper/pkg/config"
	"modelbench/gatekeeper/pkg/server"
	"modelbench/gatekeeper/pkg/telemetry/health"
)

const (
	// defaultFlushTimeout bounds the export of buffered spans on exit.
	defaultFlushTimeout = 5 * time.Second

	// watchDebounce coalesces the burst of events an editor save produces.
	watchDebounce = 500 * time.Millisecond
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission API server",
	Long: `Start the admission API server with the specified configuration.

The server answers admission requests for metered endpoints, records spend and
exposes limit and budget administration under /v1.

Examples:
  # Start with defaults and GATEKEEPER_* environment variables
  gatekeeper run

  # Start with a config file
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Override listen address
  gatekeeper run --listen 0.0.0.0:8080

  # Admit everything and report would-be denials as warnings
  gatekeeper run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "admit denied calls and report them as warnings")
}

// applyRunFlags overrides configuration values with command line flags.
func applyRunFlags(cfg *config.Config) {
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if runFlags.dryRun {
		cfg.Limits.DryRun = true
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.WrapConfigError(err)
	}
	cfg := config.GetConfig()
	applyRunFlags(cfg)

	logger, err := newLogger(cfg.Telemetry.Logging)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	logger.Info("starting gatekeeper",
		"version", Version,
		"config", cfgFile,
		"storage_backend", cfg.Limits.Storage.Backend,
		"usage_backend", cfg.Limits.Storage.UsageBackend,
		"dry_run", cfg.Limits.DryRun,
		"auth", cfg.Security.Auth.Enabled,
		"tls", cfg.Security.TLS.Enabled,
		"audit", cfg.Audit.Enabled,
	)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	if err := a.startTracing(cfg.Telemetry.Tracing); err != nil {
		return cli.NewCommandError("run", err)
	}
	if err := a.seedLimits(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	if a.pruner != nil {
		if err := a.pruner.Start(ctx); err != nil {
			logger.Warn("failed to start retention scheduler", "error", err)
		} else {
			defer a.pruner.Stop()
			if next := a.pruner.NextPruning(); next != nil {
				logger.Debug("usage retention scheduler started", "next_pruning", next)
			}
		}
	}

	if cfg.Limits.Watch && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, watchDebounce, logger.Slog())
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer watcher.Stop()

		go func() {
			err := watcher.Watch(ctx, func() error {
				reloaded, err := config.ReloadConfig()
				if err != nil {
					return err
				}
				applyRunFlags(reloaded)
				return a.applyReload(ctx, reloaded)
			})
			if err != nil {
				logger.Error("config watcher failed", "error", err)
			}
		}()
	}

	tlsCfg, err := a.buildTLS(ctx, cfg.Security.TLS)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	deps := server.Deps{
		Gate:    a.gate,
		Health:  a.checker,
		Auth:    a.auth,
		Audit:   a.audit,
		TLS:     tlsCfg,
		Version: health.NewVersionInfo(Version, GitCommit, BuildDate),
		Logger:  logger.Slog(),
	}
	if a.tracer.Enabled() {
		deps.Tracer = a.tracer
	}
	if cfg.Telemetry.Metrics.Enabled {
		deps.Metrics = a.collector
		deps.MetricsPath = cfg.Telemetry.Metrics.Path
	}

	srv := server.NewServer(cfg.Server, deps)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}
