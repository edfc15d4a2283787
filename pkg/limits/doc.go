// Package limits provides request admission control for metered endpoints.
//
// # Overview
//
// Every metered endpoint calls Gate.Admit before doing real work. The gate combines:
//
//   - Rate limiting: fixed one-minute buckets per (user, endpoint, environment), with
//     per-minute, per-hour and per-day limits read from the limit configuration store
//   - Budgets: monthly spend per (user, environment) with an optional daily limit and a
//     one-shot threshold alert
//   - Policy: explicit fail-open / fail-closed behaviour when a ledger is unreachable
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: Fixed-window limiter over the usage ledger
//   - budget: Spend tracking, caps and threshold alerts
//   - enforcement: Over-budget and outage policy
//   - storage: Ledgers (memory, SQLite, PostgreSQL, Redis) and the circuit-breaker guard
//   - notify: Alert delivery (log, Kafka, email)
//   - retention: Pruning of expired usage buckets
//   - money: Fixed-point monetary amounts
//
// # Usage
//
//	gate := limits.NewGate(limits.Config{Usage: backend, Configs: backend, Budgets: backend})
//
//	decision, err := gate.Admit(ctx, "user-42", "run-comparison", storage.Sandbox)
//	if err != nil {
//	    return err // invalid input
//	}
//	if !decision.Allowed {
//	    return decision.Err()
//	}
//
//	// Record the actual cost after the request
//	_, err = gate.RecordSpend(ctx, "user-42", storage.Sandbox, cost)
//
// # Thread Safety
//
// The gate holds no per-user state. All coordination goes through the ledgers, so any
// number of goroutines and replicas can share the same stores.
package limits
