// Package budget tracks monetary spend per user and environment and enforces
// monthly budgets and daily limits.
//
// # Periods
//
// Spend accumulates in one BudgetRecord per calendar month (UTC). The first spend of a
// month creates a fresh record with current spending equal to that spend; caps and
// the alert threshold carry over from the user's previous month, or come from the
// configured defaults. Daily spending resets at midnight UTC.
//
// # Usage
//
//	enforcer := budget.NewEnforcer(ledger, notifier, budget.Config{})
//
//	// Before expensive work (advisory)
//	status, err := enforcer.CheckBudget(ctx, "user-42", storage.Production)
//	if err == nil && !status.WithinLimits {
//	    // over budget
//	}
//
//	// After the call completed
//	status, err = enforcer.RecordSpend(ctx, "user-42", storage.Production, money.MustParse("0.0125"))
//
// # Alerts
//
// When spending first reaches alert_threshold × monthly_budget within a period, one
// notify.Event is emitted. Further spend above the threshold emits nothing. Lowering
// spending relative to the threshold through a settings change re-arms the alert.
//
// # Thread Safety
//
// Enforcer is stateless and safe for concurrent use; all state lives in the ledger.
package budget
