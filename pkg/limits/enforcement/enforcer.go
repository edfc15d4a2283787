package enforcement

import (
	"fmt"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

// Warning texts attached to admitted requests.
const (
	WarnRateLedgerUnavailable   = "rate limit ledger unavailable, admitted without limit check"
	WarnBudgetLedgerUnavailable = "budget ledger unavailable, admitted without budget check"
	WarnOverBudget              = "over budget"
)

// DefaultOutageRetryAfter matches the default open period of the storage circuit breaker.
const DefaultOutageRetryAfter = 10 * time.Second

// ReasonBudgetUnverifiable is the denial reason when the budget ledger is unreachable
// for a call above the safety threshold.
const ReasonBudgetUnverifiable = "budget could not be verified"

// Enforcer decides what happens when a limit is exceeded or a ledger is unreachable.
//
// The policy is explicit:
//   - rate ledger failure: admit with a warning
//   - budget ledger failure: deny when the estimated cost is at or above
//     FailClosedAbove, otherwise admit with a warning
//   - over budget: OverBudgetAction
type Enforcer struct {
	config Config
}

// NewEnforcer creates a new policy enforcer.
//
// Example:
//
//	enforcer := NewEnforcer(Config{
//	    OverBudgetAction: ActionBlock,
//	    FailClosedAbove:  money.MustParse("0.50"),
//	})
func NewEnforcer(config Config) *Enforcer {
	if config.OverBudgetAction == "" {
		config.OverBudgetAction = ActionBlock
	}
	if config.FailClosedAbove.IsNegative() {
		config.FailClosedAbove = money.Zero
	}
	if config.OutageRetryAfter <= 0 {
		config.OutageRetryAfter = DefaultOutageRetryAfter
	}

	return &Enforcer{
		config: config,
	}
}

// Enforce applies action. A blocked result carries message as its reason and
// retryAfter as its hint; an alert admits with message as the warning. Unknown
// actions block.
func (e *Enforcer) Enforce(action Action, message string, retryAfter time.Duration) *Result {
	switch action {
	case ActionAlert:
		return e.enforceAlert(message)
	default:
		return e.enforceBlock(message, retryAfter)
	}
}

// OnLedgerFailure applies the outage policy for the failed check. estimatedCost is
// only consulted for FaultBudgetLedger.
func (e *Enforcer) OnLedgerFailure(fault Fault, estimatedCost money.Amount) *Result {
	switch fault {
	case FaultBudgetLedger:
		if estimatedCost >= e.config.FailClosedAbove {
			return e.Enforce(ActionBlock, ReasonBudgetUnverifiable, e.config.OutageRetryAfter)
		}
		return e.Enforce(ActionAlert, WarnBudgetLedgerUnavailable, 0)
	default:
		return e.Enforce(ActionAlert, WarnRateLedgerUnavailable, 0)
	}
}

// OnOverBudget applies OverBudgetAction. retryAfter is the time until the exhausted
// allowance resets.
func (e *Enforcer) OnOverBudget(reason string, retryAfter time.Duration) *Result {
	message := reason
	if e.config.OverBudgetAction == ActionAlert {
		message = fmt.Sprintf("%s: %s", WarnOverBudget, reason)
	}
	return e.Enforce(e.config.OverBudgetAction, message, retryAfter)
}

// Policy names the outcome OnLedgerFailure would choose, for metrics labels.
func (e *Enforcer) Policy(fault Fault, estimatedCost money.Amount) string {
	if e.OnLedgerFailure(fault, estimatedCost).Allowed {
		return "fail_open"
	}
	return "fail_closed"
}

// enforceBlock rejects the request.
func (e *Enforcer) enforceBlock(reason string, retryAfter time.Duration) *Result {
	return &Result{
		Allowed:    false,
		Action:     ActionBlock,
		Reason:     reason,
		RetryAfter: retryAfter,
	}
}

// enforceAlert allows the request and carries the warning.
func (e *Enforcer) enforceAlert(warning string) *Result {
	return &Result{
		Allowed: true,
		Action:  ActionAlert,
		Warning: warning,
	}
}
