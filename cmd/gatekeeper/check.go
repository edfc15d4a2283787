package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/storage"
)

var checkFlags struct {
	userID      string
	endpoint    string
	environment string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask for one admission decision",
	Long: `Ask the gate whether a user may call an endpoint. An admitted call consumes
one unit of the user's allowance, exactly as a call through the API would.

The command exits with status 3 when the call is denied.

Examples:
  gatekeeper check --user user-42 --endpoint run-comparison
  gatekeeper check --user user-42 --endpoint run-comparison --env sandbox --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := storage.ParseEnvironment(checkFlags.environment)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		decision, err := a.gate.Admit(cmd.Context(), checkFlags.userID, checkFlags.endpoint, env)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), decisionView{decision}); err != nil {
			return err
		}
		return decision.Err()
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.userID, "user", "", "user ID")
	checkCmd.Flags().StringVar(&checkFlags.endpoint, "endpoint", "", "endpoint name")
	checkCmd.Flags().StringVar(&checkFlags.environment, "env", string(storage.Production), "environment: sandbox, production")
	_ = checkCmd.MarkFlagRequired("user")
	_ = checkCmd.MarkFlagRequired("endpoint")
}

type decisionView struct {
	*limits.AdmissionDecision
}

func (v decisionView) WriteText(w io.Writer) error {
	d := v.AdmissionDecision
	verdict := "admitted"
	if !d.Allowed {
		verdict = "denied"
	}
	if _, err := fmt.Fprintf(w, "%s (%s)\n", verdict, d.Kind); err != nil {
		return err
	}
	if d.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", d.Reason)
	}
	if d.Remaining != nil {
		fmt.Fprintf(w, "  remaining: %d of %d this minute\n", *d.Remaining, d.Limit)
	}
	if d.ResetInSeconds != nil {
		fmt.Fprintf(w, "  resets in: %ds\n", *d.ResetInSeconds)
	}
	if d.Warning != "" {
		fmt.Fprintf(w, "  warning: %s\n", d.Warning)
	}
	if d.Budget != nil {
		fmt.Fprintf(w, "  budget used: %.1f%%\n", d.Budget.RatioUsed*100)
	}
	return nil
}
