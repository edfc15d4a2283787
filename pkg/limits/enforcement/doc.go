// Package enforcement holds the admission policy applied when a limit is exceeded
// or a ledger cannot be reached.
//
// # Overview
//
//   - Rate ledger outage: fail open. The call proceeds with a warning.
//   - Budget ledger outage on a cost-bearing endpoint: fail closed when the endpoint's
//     estimated cost is at or above the safety threshold, otherwise fail open with a
//     warning.
//   - Over budget: block (default) or alert.
//
// # Usage
//
//	enforcer := enforcement.NewEnforcer(enforcement.Config{
//	    OverBudgetAction: enforcement.ActionBlock,
//	    FailClosedAbove:  money.MustParse("0.10"),
//	})
//
//	result := enforcer.OnLedgerFailure(enforcement.FaultBudgetLedger, estimatedCost)
//	if !result.Allowed {
//	    // reject
//	}
//
// # Thread Safety
//
// The Enforcer is immutable and can be used concurrently from multiple goroutines.
package enforcement
