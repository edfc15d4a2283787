package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"
)

// Record is one admission decision.
type Record struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	Time      time.Time `json:"time"`

	UserID      string `json:"user_id"`
	Environment string `json:"environment"`
	Endpoint    string `json:"endpoint"`

	Allowed        bool   `json:"allowed"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason,omitempty"`
	Warning        string `json:"warning,omitempty"`
	Remaining      *int64 `json:"remaining,omitempty"`
	ResetInSeconds *int64 `json:"reset_in_seconds,omitempty"`

	// DryRun is set when a denial was admitted because dry run is on.
	DryRun bool `json:"dry_run,omitempty"`

	// Principal is the API key name that asked for admission, empty when the
	// API is open or the call came from the library.
	Principal string `json:"principal,omitempty"`

	// Hash seals the fields above.
	Hash string `json:"hash"`
}

// ComputeHash returns the SHA-256 of the record's fields, excluding Hash.
func (r *Record) ComputeHash() string {
	optional := func(v *int64) string {
		if v == nil {
			return "-"
		}
		return strconv.FormatInt(*v, 10)
	}

	fields := []string{
		r.ID,
		r.RequestID,
		r.Time.UTC().Format(time.RFC3339Nano),
		r.UserID,
		r.Environment,
		r.Endpoint,
		strconv.FormatBool(r.Allowed),
		r.Kind,
		r.Reason,
		r.Warning,
		optional(r.Remaining),
		optional(r.ResetInSeconds),
		strconv.FormatBool(r.DryRun),
		r.Principal,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Seal sets Hash.
func (r *Record) Seal() {
	r.Hash = r.ComputeHash()
}

// Verify reports whether Hash matches the record's fields.
func (r *Record) Verify() bool {
	return r.Hash != "" && r.Hash == r.ComputeHash()
}

// Query filters records. Zero values match everything.
type Query struct {
	Start *time.Time `json:"start,omitempty"` // Inclusive
	End   *time.Time `json:"end,omitempty"`   // Exclusive

	UserID      string `json:"user_id,omitempty"`
	Environment string `json:"environment,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Allowed     *bool  `json:"allowed,omitempty"`

	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	SortOrder string `json:"sort_order,omitempty"` // "asc" or "desc" by time
}

// Storage persists audit records. Implementations must be safe for concurrent use.
type Storage interface {
	Store(ctx context.Context, record *Record) error

	// Query returns matching records, newest first unless SortOrder is "asc".
	Query(ctx context.Context, q *Query) ([]*Record, error)

	// QueryStream streams matching records. Both channels are closed when the
	// query completes; errCh carries at most one error.
	QueryStream(ctx context.Context, q *Query) (<-chan *Record, <-chan error, error)

	// Count ignores Limit and Offset.
	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteBefore removes records older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Exporter writes records in a file format.
type Exporter interface {
	Export(ctx context.Context, records []*Record, w io.Writer) error
	ExportStream(ctx context.Context, records <-chan *Record, w io.Writer) error
}
