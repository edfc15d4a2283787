// Package storage provides the audit record stores.
//
// MemoryStorage keeps records in a slice and suits tests and single-process
// deployments that do not need the trail to survive a restart. SQLiteStorage
// persists records through database/sql with either the pure Go driver
// ("sqlite", modernc.org/sqlite) or the cgo driver ("sqlite3", mattn/go-sqlite3).
package storage
