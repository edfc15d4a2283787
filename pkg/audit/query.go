package audit

import "fmt"

const (
	// DefaultLimit applies when a query sets no limit.
	DefaultLimit = 100

	// MaxLimit bounds a single query.
	MaxLimit = 10000
)

var validKinds = map[string]bool{
	"admitted":           true,
	"unconfigured":       true,
	"rate_limited":       true,
	"budget_exceeded":    true,
	"ledger_unavailable": true,
}

// Validate checks query parameters.
func (q *Query) Validate() error {
	if q.Limit < 0 {
		return &QueryError{Query: q, Cause: fmt.Errorf("limit must be >= 0, got %d", q.Limit)}
	}
	if q.Limit > MaxLimit {
		return &QueryError{Query: q, Cause: fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit)}
	}
	if q.Offset < 0 {
		return &QueryError{Query: q, Cause: fmt.Errorf("offset must be >= 0, got %d", q.Offset)}
	}
	switch q.SortOrder {
	case "", "asc", "desc":
	default:
		return &QueryError{Query: q, Cause: fmt.Errorf("invalid sort order %q (must be 'asc' or 'desc')", q.SortOrder)}
	}
	if q.Start != nil && q.End != nil && !q.Start.Before(*q.End) {
		return &QueryError{Query: q, Cause: fmt.Errorf("start must be before end")}
	}
	switch q.Environment {
	case "", "sandbox", "production":
	default:
		return &QueryError{Query: q, Cause: fmt.Errorf("invalid environment %q", q.Environment)}
	}
	if q.Kind != "" && !validKinds[q.Kind] {
		return &QueryError{Query: q, Cause: fmt.Errorf("invalid kind %q", q.Kind)}
	}
	return nil
}

// ApplyDefaults fills in Limit and SortOrder.
func (q *Query) ApplyDefaults() {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}

// Matches reports whether r passes the query's filters. Limit, Offset and
// SortOrder are ignored.
func (q *Query) Matches(r *Record) bool {
	if q.Start != nil && r.Time.Before(*q.Start) {
		return false
	}
	if q.End != nil && !r.Time.Before(*q.End) {
		return false
	}
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.Environment != "" && r.Environment != q.Environment {
		return false
	}
	if q.Endpoint != "" && r.Endpoint != q.Endpoint {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Allowed != nil && r.Allowed != *q.Allowed {
		return false
	}
	return true
}
