package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/cli"
	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/server/api"
)

var budgetFlags struct {
	userID      string
	environment string
	monthly     string
	daily       string
	threshold   float64
	email       string
	notify      bool
	amount      string
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and manage spend budgets",
	Long: `Show, configure and charge the budget of a user in one environment.

Budgets run per calendar month (UTC). Daily limits reset at midnight UTC.

Examples:
  # Show the current period
  gatekeeper budget show --user user-42

  # Set a monthly budget of 50.00 with an alert at 80%
  gatekeeper budget set --user user-42 --monthly 50 --threshold 0.8

  # Remove the daily limit
  gatekeeper budget set --user user-42 --daily ""

  # Record the cost of a completed call
  gatekeeper budget spend --user user-42 --amount 0.0125`,
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the budget of the current period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(budgetFlags.environment)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return showBudget(cmd, a, env)
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change budget caps and alert settings",
	Long: `Change budget caps and alert settings of the current period.

Flags that are not given keep their current value. An empty --monthly or
--daily removes the cap. Spending is never changed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(budgetFlags.environment)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		enforcer := a.gate.Budgets()
		settings := enforcer.Defaults()
		rec, err := enforcer.GetRecord(cmd.Context(), budgetFlags.userID, env)
		if err != nil {
			return err
		}
		if rec != nil {
			settings = rec.BudgetSettings
		}

		flags := cmd.Flags()
		if flags.Changed("monthly") {
			if settings.MonthlyBudget, err = parseCap(budgetFlags.monthly); err != nil {
				return err
			}
		}
		if flags.Changed("daily") {
			if settings.DailyLimit, err = parseCap(budgetFlags.daily); err != nil {
				return err
			}
		}
		if flags.Changed("threshold") {
			settings.AlertThreshold = budgetFlags.threshold
		}
		if flags.Changed("email") {
			email := budgetFlags.email
			settings.NotificationEmail = &email
		}
		if flags.Changed("notify") {
			settings.EmailNotificationsEnabled = budgetFlags.notify
		}

		if _, err := enforcer.UpdateSettings(cmd.Context(), budgetFlags.userID, env, settings); err != nil {
			return err
		}
		return showBudget(cmd, a, env)
	},
}

var budgetSpendCmd = &cobra.Command{
	Use:   "spend",
	Short: "Record the cost of a completed call",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(budgetFlags.environment)
		if err != nil {
			return err
		}
		amount, err := parseAmount(budgetFlags.amount)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.gate.RecordSpend(cmd.Context(), budgetFlags.userID, env, amount)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), budgetView{Status: status})
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetShowCmd, budgetSetCmd, budgetSpendCmd)

	for _, c := range []*cobra.Command{budgetShowCmd, budgetSetCmd, budgetSpendCmd} {
		c.Flags().StringVar(&budgetFlags.userID, "user", "", "user ID")
		c.Flags().StringVar(&budgetFlags.environment, "env", string(storage.Production), "environment: sandbox, production")
		_ = c.MarkFlagRequired("user")
	}

	budgetSetCmd.Flags().StringVar(&budgetFlags.monthly, "monthly", "", "monthly budget, empty for none")
	budgetSetCmd.Flags().StringVar(&budgetFlags.daily, "daily", "", "daily limit, empty for none")
	budgetSetCmd.Flags().Float64Var(&budgetFlags.threshold, "threshold", 0, "alert threshold as a fraction of the monthly budget")
	budgetSetCmd.Flags().StringVar(&budgetFlags.email, "email", "", "notification email address")
	budgetSetCmd.Flags().BoolVar(&budgetFlags.notify, "notify", false, "email alerts to the notification address")

	budgetSpendCmd.Flags().StringVar(&budgetFlags.amount, "amount", "", "amount spent, e.g. 0.0125")
	_ = budgetSpendCmd.MarkFlagRequired("amount")
}

func showBudget(cmd *cobra.Command, a *app, env storage.Environment) error {
	enforcer := a.gate.Budgets()
	rec, err := enforcer.GetRecord(cmd.Context(), budgetFlags.userID, env)
	if err != nil {
		return err
	}
	status, err := enforcer.CheckBudget(cmd.Context(), budgetFlags.userID, env)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), budgetView{Record: rec, Status: status})
}

func parseAmount(s string) (money.Amount, error) {
	amount, err := money.Parse(s)
	if err != nil {
		return 0, &limits.InvalidInputError{Err: fmt.Errorf("%w: %v", limits.ErrInvalidInput, err)}
	}
	if amount.IsNegative() {
		return 0, &limits.InvalidInputError{Err: fmt.Errorf("%w: amount cannot be negative", limits.ErrInvalidInput)}
	}
	return amount, nil
}

// parseCap parses an optional cap; empty means no cap.
func parseCap(s string) (*money.Amount, error) {
	if s == "" {
		return nil, nil
	}
	amount, err := parseAmount(s)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

// budgetView renders a budget position. JSON matches the admin API.
type budgetView api.BudgetResponse

func (v budgetView) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := v.Status
	fmt.Fprintf(tw, "Period:\t%s - %s\n", s.PeriodStart.Format("2006-01-02"), s.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(tw, "Spent:\t%s\n", s.Spent.StringFixed(2))
	fmt.Fprintf(tw, "Monthly budget:\t%s\n", formatCap(s.MonthlyBudget))
	fmt.Fprintf(tw, "Spent today:\t%s\n", s.DailySpent.StringFixed(2))
	fmt.Fprintf(tw, "Daily limit:\t%s\n", formatCap(s.DailyLimit))
	fmt.Fprintf(tw, "Used:\t%.1f%% (alert at %.0f%%)\n", s.RatioUsed*100, s.AlertThreshold*100)
	fmt.Fprintf(tw, "Within limits:\t%t\n", s.WithinLimits)
	if s.Reason != "" {
		fmt.Fprintf(tw, "Reason:\t%s\n", s.Reason)
	}
	if s.AlertTriggered {
		fmt.Fprintf(tw, "Alert:\ttriggered\n")
	}
	if v.Record != nil && v.Record.NotificationEmail != nil {
		fmt.Fprintf(tw, "Notify:\t%s (email %t)\n", *v.Record.NotificationEmail, v.Record.EmailNotificationsEnabled)
	}
	return tw.Flush()
}

func formatCap(a *money.Amount) string {
	if a == nil {
		return "none"
	}
	return a.StringFixed(2)
}
