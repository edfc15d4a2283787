package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/cli"
	"modelbench/gatekeeper/pkg/limits/retention"
)

var pruneFlags struct {
	keepDays int
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old usage buckets",
	Long: `Delete usage buckets older than the retention window once, without waiting
for the scheduled pruner of the server.

Buckets inside the trailing day window are always kept. When the audit trail
is enabled, records older than audit.keep_days are deleted too.

Examples:
  gatekeeper prune
  gatekeeper prune --keep-days 7`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		keepDays := a.cfg.Limits.Retention.KeepDays
		if cmd.Flags().Changed("keep-days") {
			keepDays = pruneFlags.keepDays
		}

		pruner := retention.NewPruner(a.usage, &retention.Config{KeepDays: keepDays})
		if a.audit != nil {
			pruner.AddTarget(retention.Target{
				Name:     "audit",
				KeepDays: a.cfg.Audit.KeepDays,
				Prune:    a.audit.DeleteBefore,
			})
		}
		deleted, err := pruner.Prune(cmd.Context())
		if err != nil {
			return cli.NewCommandError("prune", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d usage buckets older than %s\n",
			deleted, pruner.Cutoff().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().IntVar(&pruneFlags.keepDays, "keep-days", retention.MinKeepDays, "days of usage to keep (overrides limits.retention.keep_days)")
}
