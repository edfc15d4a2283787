// Package storage provides the ledgers behind the admission subsystem.
//
// # Overview
//
// Three stores back every admission decision:
//
//   - UsageLedger: per-minute call counts keyed by (user, endpoint, environment, window)
//   - BudgetLedger: per-period spend records keyed by (user, environment, period start)
//   - LimitConfigStore: call limits keyed by (environment, endpoint)
//
// Implementations:
//
//   - MemoryBackend: in-process maps, for tests and single-replica development
//   - SQLiteBackend: file database (modernc "sqlite" or cgo "sqlite3" driver)
//   - PostgresBackend: shared database through GORM
//   - RedisUsageLedger: shared counters with key expiry
//   - CachedConfigStore: Redis read-through cache in front of any LimitConfigStore
//
// Every mutation the admission path performs is a single atomic statement
// (upsert-increment, upsert-add or conditional update). No implementation reads a
// value in Go and writes it back.
//
// # Failure Handling
//
// Wrap stores with a Guard to bound every call with a timeout and a circuit
// breaker. Failures then surface as errors matching ErrLedgerUnavailable:
//
//	guard := storage.NewGuard("usage", storage.GuardConfig{Timeout: 250 * time.Millisecond})
//	usage := storage.GuardUsageLedger(backend, guard)
//
// # Thread Safety
//
// All backends are safe for concurrent use.
package storage
