package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/audit/export"
	"modelbench/gatekeeper/pkg/cli"
)

var auditFlags struct {
	userID      string
	environment string
	endpoint    string
	kind        string
	allowed     string
	since       string
	until       string
	limit       int
	offset      int
	order       string

	format string
	out    string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the admission audit trail",
	Long: `List, export and verify the recorded admission decisions.

Every decision is sealed with a SHA-256 hash of its fields when it is recorded;
verify recomputes the hashes and fails when a record was changed.

Times are RFC 3339 timestamps or durations before now, e.g. 24h.

Examples:
  # The last 20 denials of a user
  gatekeeper audit list --user user-42 --allowed false --limit 20

  # Export yesterday's production decisions as CSV
  gatekeeper audit export --env production --since 48h --until 24h --format csv --out audit.csv

  # Check that no record was altered
  gatekeeper audit verify`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := auditQuery(time.Now())
		if err != nil {
			return err
		}
		store, err := openAudit()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Query(cmd.Context(), q)
		if err != nil {
			return cli.NewCommandError("audit list", err)
		}
		if outputFormat == string(cli.FormatJSON) {
			return printResult(cmd.OutOrStdout(), records)
		}
		return printResult(cmd.OutOrStdout(), auditTable(records))
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as CSV or JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, ok := export.New(auditFlags.format)
		if !ok {
			return fmt.Errorf("%w: unknown export format %q (valid: csv, json)", audit.ErrInvalidQuery, auditFlags.format)
		}
		q, err := auditQuery(time.Now())
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("limit") {
			q.Limit = audit.MaxLimit
		}

		store, err := openAudit()
		if err != nil {
			return err
		}
		defer store.Close()

		w := cmd.OutOrStdout()
		if auditFlags.out != "" {
			f, err := os.Create(auditFlags.out)
			if err != nil {
				return cli.NewCommandError("audit export", err)
			}
			defer f.Close()
			w = f
		}

		records, errs, err := store.QueryStream(cmd.Context(), q)
		if err != nil {
			return cli.NewCommandError("audit export", err)
		}
		if err := exporter.ExportStream(cmd.Context(), records, w); err != nil {
			return cli.NewCommandError("audit export", err)
		}
		if err := <-errs; err != nil {
			return cli.NewCommandError("audit export", err)
		}
		if auditFlags.out != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported audit records to %s\n", auditFlags.out)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash of every audit record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAudit()
		if err != nil {
			return err
		}
		defer store.Close()

		checked, tampered, err := verifyAudit(cmd.Context(), store)
		if err != nil {
			return cli.NewCommandError("audit verify", err)
		}
		for _, id := range tampered {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n", id)
		}
		if len(tampered) > 0 {
			return fmt.Errorf("%w: %d of %d records", audit.ErrTampered, len(tampered), checked)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Verified %d audit records\n", checked)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditExportCmd, auditVerifyCmd)

	for _, c := range []*cobra.Command{auditListCmd, auditExportCmd} {
		c.Flags().StringVar(&auditFlags.userID, "user", "", "filter by user ID")
		c.Flags().StringVar(&auditFlags.environment, "env", "", "filter by environment: sandbox, production")
		c.Flags().StringVar(&auditFlags.endpoint, "endpoint", "", "filter by endpoint")
		c.Flags().StringVar(&auditFlags.kind, "kind", "", "filter by decision kind")
		c.Flags().StringVar(&auditFlags.allowed, "allowed", "", "filter by outcome: true, false")
		c.Flags().StringVar(&auditFlags.since, "since", "", "only records at or after this time")
		c.Flags().StringVar(&auditFlags.until, "until", "", "only records before this time")
		c.Flags().IntVar(&auditFlags.limit, "limit", audit.DefaultLimit, "maximum number of records")
		c.Flags().IntVar(&auditFlags.offset, "offset", 0, "number of records to skip")
		c.Flags().StringVar(&auditFlags.order, "order", "desc", "sort order by time: asc, desc")
	}

	auditExportCmd.Flags().StringVar(&auditFlags.format, "format", "json", "export format: csv, json")
	auditExportCmd.Flags().StringVar(&auditFlags.out, "out", "", "output file (stdout when empty)")
}

// openAudit opens the configured audit store without building the gate. The
// store is opened even when recording is disabled so old records stay readable.
func openAudit() (audit.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Telemetry.Logging
	logCfg.Level = "warn"
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := newLogger(logCfg)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return openAuditStore(cfg.Audit, logger.Slog())
}

// auditQuery builds a query from the filter flags.
func auditQuery(now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		UserID:      auditFlags.userID,
		Environment: auditFlags.environment,
		Endpoint:    auditFlags.endpoint,
		Kind:        auditFlags.kind,
		Limit:       auditFlags.limit,
		Offset:      auditFlags.offset,
		SortOrder:   auditFlags.order,
	}

	var err error
	if q.Start, err = parseTimeFlag("since", auditFlags.since, now); err != nil {
		return nil, err
	}
	if q.End, err = parseTimeFlag("until", auditFlags.until, now); err != nil {
		return nil, err
	}
	if auditFlags.allowed != "" {
		b, err := strconv.ParseBool(auditFlags.allowed)
		if err != nil {
			return nil, fmt.Errorf("%w: --allowed: %v", audit.ErrInvalidQuery, err)
		}
		q.Allowed = &b
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// parseTimeFlag accepts an RFC 3339 time or a duration before now.
func parseTimeFlag(name, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("%w: --%s: %q is neither an RFC 3339 time nor a duration", audit.ErrInvalidQuery, name, value)
	}
	t := now.Add(-d)
	return &t, nil
}

// verifyAudit pages through every record in time order and returns the IDs of
// those whose hash does not match.
func verifyAudit(ctx context.Context, store audit.Storage) (int, []string, error) {
	var (
		checked  int
		tampered []string
	)
	q := &audit.Query{Limit: audit.MaxLimit, SortOrder: "asc"}
	for {
		records, err := store.Query(ctx, q)
		if err != nil {
			return checked, tampered, err
		}
		for _, r := range records {
			if !r.Verify() {
				tampered = append(tampered, r.ID)
			}
		}
		checked += len(records)
		if len(records) < q.Limit {
			return checked, tampered, nil
		}
		q.Offset += len(records)
	}
}

// auditTable renders records as one row each.
func auditTable(records []*audit.Record) *cli.Table {
	table := &cli.Table{Headers: []string{"Time", "User", "Environment", "Endpoint", "Kind", "Allowed", "Reason"}}
	for _, r := range records {
		reason := r.Reason
		if r.DryRun {
			reason = "dry run: " + reason
		}
		table.Rows = append(table.Rows, []string{
			r.Time.Format(time.RFC3339),
			r.UserID,
			r.Environment,
			r.Endpoint,
			r.Kind,
			strconv.FormatBool(r.Allowed),
			reason,
		})
	}
	return table
}
