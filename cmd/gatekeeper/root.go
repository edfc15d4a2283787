package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/cli"
	"modelbench/gatekeeper/pkg/config"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - rate limits and budgets for metered endpoints",
	Long: `Gatekeeper decides whether a user may call a metered endpoint of the
benchmarking platform. It enforces:
  - Per-minute, per-hour and per-day call limits per user, endpoint and environment
  - Monthly and daily spend budgets with threshold alerts
  - A fail-closed policy for expensive calls when the budget ledger is down

Without --config, the defaults and GATEKEEPER_* environment variables are used.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json")
}

// loadConfig reads the configuration for one-shot commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.WrapConfigError(err)
	}
	config.SetConfig(cfg)
	return cfg, nil
}

// openApp loads the configuration and builds the gate for one-shot commands.
// Logs stay quiet below warn unless --verbose is set.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Telemetry.Logging
	if verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}
	logger, err := newLogger(logCfg)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.seedLimits(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// printResult renders data in the format chosen with --output.
func printResult(w io.Writer, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(w, data)
}
