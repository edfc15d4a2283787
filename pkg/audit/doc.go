// Package audit keeps a tamper-evident trail of admission decisions.
//
// Every decision the gate makes (admitted, unconfigured, rate limited or over
// budget) becomes a Record carrying the user, endpoint, environment, the
// decision itself, the request ID and the API key principal that asked. Each
// record is sealed with a SHA-256 hash over its fields so edits made directly in
// the database are detectable with Record.Verify.
//
// The recorder subpackage writes records asynchronously so the admission path
// never waits on the audit store. The storage subpackage holds the in-memory and
// SQLite stores, and export renders records as CSV or JSON.
package audit
