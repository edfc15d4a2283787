// Package export writes audit records as CSV or JSON.
//
// Both exporters accept either a slice or a channel of records. The streaming
// form is meant for QueryStream results too large to hold in memory.
package export
