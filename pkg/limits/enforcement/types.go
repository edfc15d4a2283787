package enforcement

import (
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

// Action defines what to do when a check cannot admit a request normally.
type Action string

const (
	// ActionBlock rejects the request.
	ActionBlock Action = "block"

	// ActionAlert permits the request and flags a warning.
	ActionAlert Action = "alert"
)

// Fault names the check whose backing store failed.
type Fault string

const (
	// FaultRateLedger is a failure of the usage ledger or limit configuration store.
	FaultRateLedger Fault = "rate_ledger"

	// FaultBudgetLedger is a failure of the budget ledger.
	FaultBudgetLedger Fault = "budget_ledger"
)

// Config contains configuration for the enforcer.
type Config struct {
	// OverBudgetAction is applied when a cost-bearing call finds the user over budget.
	// ActionBlock (default) denies the call, ActionAlert admits it with a warning.
	OverBudgetAction Action

	// FailClosedAbove is the safety threshold: when the budget ledger is unreachable,
	// calls whose estimated cost is at or above it are denied. Zero denies every
	// cost-bearing call during an outage.
	FailClosedAbove money.Amount

	// OutageRetryAfter is the retry hint of a call denied because the budget ledger
	// is unreachable.
	// Default: 10s
	OutageRetryAfter time.Duration
}

// Result contains the outcome of a policy decision.
type Result struct {
	// Allowed indicates if the request should proceed.
	Allowed bool

	// Action is the enforcement action that was taken.
	Action Action

	// Reason explains why the request was blocked (if Allowed=false).
	Reason string

	// Warning is set when the request proceeds despite a failed or exceeded check.
	Warning string

	// RetryAfter suggests how long to wait before retrying (if action=block).
	RetryAfter time.Duration
}
