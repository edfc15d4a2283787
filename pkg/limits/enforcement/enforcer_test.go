package enforcement

import (
	"testing"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

func TestNewEnforcer_Defaults(t *testing.T) {
	enforcer := NewEnforcer(Config{FailClosedAbove: money.MustParse("-1"), OutageRetryAfter: -time.Second})

	result := enforcer.OnOverBudget("monthly budget exhausted", time.Hour)
	if result.Allowed || result.Action != ActionBlock {
		t.Errorf("Expected default over-budget action Block, got %+v", result)
	}

	// A negative threshold is clamped to 0, so even a free call fails closed.
	result = enforcer.OnLedgerFailure(FaultBudgetLedger, money.Zero)
	if result.Allowed {
		t.Fatal("Expected negative threshold clamped to 0")
	}
	if result.RetryAfter != DefaultOutageRetryAfter {
		t.Errorf("Expected retry after %v, got %v", DefaultOutageRetryAfter, result.RetryAfter)
	}
}

func TestEnforcer_Enforce(t *testing.T) {
	enforcer := NewEnforcer(Config{})

	tests := []struct {
		action      Action
		wantAllowed bool
		wantAction  Action
	}{
		{ActionBlock, false, ActionBlock},
		{ActionAlert, true, ActionAlert},
		{Action("invalid"), false, ActionBlock},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			result := enforcer.Enforce(tt.action, "monthly budget exhausted", 30*time.Second)
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v", tt.wantAllowed, result.Allowed)
			}
			if result.Action != tt.wantAction {
				t.Errorf("Expected action %s, got %s", tt.wantAction, result.Action)
			}
			if result.Action == ActionBlock {
				if result.RetryAfter != 30*time.Second {
					t.Errorf("Expected retry after 30s, got %v", result.RetryAfter)
				}
				if result.Reason != "monthly budget exhausted" {
					t.Errorf("Unexpected reason %q", result.Reason)
				}
			} else if result.Warning != "monthly budget exhausted" {
				t.Errorf("Unexpected warning %q", result.Warning)
			}
		})
	}
}

func TestEnforcer_RateLedgerFailureFailsOpen(t *testing.T) {
	// The safety threshold only applies to the budget ledger.
	enforcer := NewEnforcer(Config{FailClosedAbove: 0})

	result := enforcer.OnLedgerFailure(FaultRateLedger, money.MustParse("100"))
	if !result.Allowed {
		t.Fatal("Expected rate ledger outage to admit")
	}
	if result.Warning != WarnRateLedgerUnavailable {
		t.Errorf("Expected warning %q, got %q", WarnRateLedgerUnavailable, result.Warning)
	}
	if got := enforcer.Policy(FaultRateLedger, 0); got != "fail_open" {
		t.Errorf("Expected fail_open, got %s", got)
	}
}

func TestEnforcer_BudgetLedgerFailure(t *testing.T) {
	tests := []struct {
		name        string
		threshold   string
		cost        string
		wantAllowed bool
	}{
		{"zero threshold always closed", "0", "0", false},
		{"zero threshold expensive call", "0", "2.50", false},
		{"cheap call below threshold", "0.50", "0.01", true},
		{"call at threshold", "0.50", "0.50", false},
		{"call above threshold", "0.50", "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enforcer := NewEnforcer(Config{
				FailClosedAbove:  money.MustParse(tt.threshold),
				OutageRetryAfter: time.Minute,
			})

			result := enforcer.OnLedgerFailure(FaultBudgetLedger, money.MustParse(tt.cost))
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v", tt.wantAllowed, result.Allowed)
			}
			if result.Allowed && result.Warning != WarnBudgetLedgerUnavailable {
				t.Errorf("Expected warning on fail-open, got %q", result.Warning)
			}
			if !result.Allowed && result.Reason != ReasonBudgetUnverifiable {
				t.Errorf("Expected reason %q, got %q", ReasonBudgetUnverifiable, result.Reason)
			}
			if !result.Allowed && result.RetryAfter != time.Minute {
				t.Errorf("Expected outage retry after 1m, got %v", result.RetryAfter)
			}
		})
	}
}

func TestEnforcer_OnOverBudget(t *testing.T) {
	block := NewEnforcer(Config{})
	result := block.OnOverBudget("monthly budget exhausted", time.Hour)
	if result.Allowed || result.Action != ActionBlock || result.RetryAfter != time.Hour {
		t.Errorf("Expected block with retry after 1h, got %+v", result)
	}

	alert := NewEnforcer(Config{OverBudgetAction: ActionAlert})
	result = alert.OnOverBudget("monthly budget exhausted", time.Hour)
	if !result.Allowed || result.Action != ActionAlert {
		t.Errorf("Expected alert, got %+v", result)
	}
	if result.Warning != "over budget: monthly budget exhausted" {
		t.Errorf("Unexpected warning %q", result.Warning)
	}
}
