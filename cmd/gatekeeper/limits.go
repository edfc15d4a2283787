package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/cli"
	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/storage"
)

var limitsFlags struct {
	environment string
	endpoint    string
	userID      string
	perMinute   int64
	perHour     int64
	perDay      int64
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage rate limit configuration",
	Long: `List, set and delete the call limits of (environment, endpoint) pairs.

Limits from the configuration file are seeded before every command, so a
rule in the file replaces a value set here on the next start.

Examples:
  # List every configured limit
  gatekeeper limits list

  # Allow 5 calls per minute, 100 per hour and 1000 per day
  gatekeeper limits set --env production --endpoint run-comparison \
    --per-minute 5 --per-hour 100 --per-day 1000

  # Remove a limit; the endpoint becomes unconfigured and admits everything
  gatekeeper limits delete --env production --endpoint run-comparison

  # Show a user's current usage against a limit
  gatekeeper limits usage --env production --endpoint run-comparison --user user-42`,
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured limits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cfgs, err := a.configs.ListLimitConfigs(cmd.Context())
		if err != nil {
			return cli.NewCommandError("limits list", err)
		}
		return printResult(cmd.OutOrStdout(), limitTable(cfgs...))
	},
}

var limitsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace a limit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(limitsFlags.environment)
		if err != nil {
			return err
		}
		cfg := storage.LimitConfig{
			Environment:       env,
			Endpoint:          limitsFlags.endpoint,
			MaxCallsPerMinute: limitsFlags.perMinute,
			MaxCallsPerHour:   limitsFlags.perHour,
			MaxCallsPerDay:    limitsFlags.perDay,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.configs.PutLimitConfig(cmd.Context(), cfg); err != nil {
			return cli.NewCommandError("limits set", err)
		}
		return printResult(cmd.OutOrStdout(), limitTable(cfg))
	},
}

var limitsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a limit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(limitsFlags.environment)
		if err != nil {
			return err
		}
		if err := storage.ValidateIdentifier("endpoint", limitsFlags.endpoint); err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		found, err := a.configs.DeleteLimitConfig(cmd.Context(), env, limitsFlags.endpoint)
		if err != nil {
			return cli.NewCommandError("limits delete", err)
		}
		if !found {
			return fmt.Errorf("%w: %s/%s", limits.ErrConfigMissing, env, limitsFlags.endpoint)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted limit %s/%s\n", env, limitsFlags.endpoint)
		return nil
	},
}

var limitsUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show a user's usage against a limit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(limitsFlags.environment)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.gate.Limiter().Usage(cmd.Context(), limitsFlags.userID, limitsFlags.endpoint, env)
		if err != nil {
			return err
		}

		if outputFormat == string(cli.FormatJSON) {
			return printResult(cmd.OutOrStdout(), snap)
		}
		perMinute, perHour, perDay := "-", "-", "-"
		if c := snap.Config; c != nil {
			perMinute = strconv.FormatInt(c.MaxCallsPerMinute, 10)
			perHour = strconv.FormatInt(c.MaxCallsPerHour, 10)
			perDay = strconv.FormatInt(c.MaxCallsPerDay, 10)
		}
		table := &cli.Table{
			Headers: []string{"Window", "Calls", "Limit"},
			Rows: [][]string{
				{"minute", strconv.FormatInt(snap.Minute, 10), perMinute},
				{"hour", strconv.FormatInt(snap.Hour, 10), perHour},
				{"day", strconv.FormatInt(snap.Day, 10), perDay},
			},
		}
		return printResult(cmd.OutOrStdout(), table)
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.AddCommand(limitsListCmd, limitsSetCmd, limitsDeleteCmd, limitsUsageCmd)

	for _, c := range []*cobra.Command{limitsSetCmd, limitsDeleteCmd, limitsUsageCmd} {
		c.Flags().StringVar(&limitsFlags.environment, "env", string(storage.Production), "environment: sandbox, production")
		c.Flags().StringVar(&limitsFlags.endpoint, "endpoint", "", "endpoint name")
		_ = c.MarkFlagRequired("endpoint")
	}

	limitsSetCmd.Flags().Int64Var(&limitsFlags.perMinute, "per-minute", 0, "maximum calls per minute")
	limitsSetCmd.Flags().Int64Var(&limitsFlags.perHour, "per-hour", 0, "maximum calls per hour")
	limitsSetCmd.Flags().Int64Var(&limitsFlags.perDay, "per-day", 0, "maximum calls per day")

	limitsUsageCmd.Flags().StringVar(&limitsFlags.userID, "user", "", "user ID")
	_ = limitsUsageCmd.MarkFlagRequired("user")
}

// limitTable renders limit configs as one row each.
func limitTable(cfgs ...storage.LimitConfig) *cli.Table {
	table := &cli.Table{Headers: []string{"Environment", "Endpoint", "Per Minute", "Per Hour", "Per Day"}}
	for _, c := range cfgs {
		table.Rows = append(table.Rows, []string{
			string(c.Environment),
			c.Endpoint,
			strconv.FormatInt(c.MaxCallsPerMinute, 10),
			strconv.FormatInt(c.MaxCallsPerHour, 10),
			strconv.FormatInt(c.MaxCallsPerDay, 10),
		})
	}
	return table
}
