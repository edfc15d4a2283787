package limits

import (
	"context"
	"fmt"
	"time"

	"modelbench/gatekeeper/pkg/limits/budget"
	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/storage"
)

// Error taxonomy, shared with the storage layer so errors.Is works across packages.
var (
	// ErrConfigMissing marks an unconfigured (environment, endpoint). Admit never returns
	// it; missing configuration fails open.
	ErrConfigMissing = storage.ErrConfigMissing

	// ErrRateLimited is wrapped by a LimitError for rate limit denials.
	ErrRateLimited = storage.ErrRateLimited

	// ErrBudgetExceeded is wrapped by a LimitError for budget denials.
	ErrBudgetExceeded = storage.ErrBudgetExceeded

	// ErrLedgerUnavailable is returned when a backing store cannot be reached in time.
	ErrLedgerUnavailable = storage.ErrLedgerUnavailable

	// ErrInvalidInput is wrapped by InvalidInputError.
	ErrInvalidInput = storage.ErrInvalidInput
)

// DecisionKind classifies an AdmissionDecision so callers can tell "too fast" from
// "over budget".
type DecisionKind string

const (
	// KindAdmitted is an admitted call checked against a configured limit.
	KindAdmitted DecisionKind = "admitted"

	// KindUnconfigured is an admitted call for an endpoint without a LimitConfig.
	KindUnconfigured DecisionKind = "unconfigured"

	// KindRateLimited is a rate limit denial. Retry after ResetInSeconds.
	KindRateLimited DecisionKind = "rate_limited"

	// KindBudgetExceeded is a budget denial.
	KindBudgetExceeded DecisionKind = "budget_exceeded"

	// KindLedgerUnavailable is a denial because the budget could not be verified.
	KindLedgerUnavailable DecisionKind = "ledger_unavailable"
)

// AdmissionDecision is the outcome of Gate.Admit. It is a value: denials are not errors.
type AdmissionDecision struct {
	// Allowed indicates if the call may proceed.
	Allowed bool `json:"allowed"`

	// Reason explains a denial, or "unconfigured" for a fail-open admit.
	Reason string `json:"reason,omitempty"`

	// Remaining is the per-minute allowance left after this call. Nil when no limit applies.
	Remaining *int64 `json:"remaining"`

	// ResetInSeconds is the time until the binding limit resets. Nil when no limit applies.
	ResetInSeconds *int64 `json:"reset_in_seconds"`

	// Kind classifies the decision.
	Kind DecisionKind `json:"kind"`

	// Warning is set when the call was admitted despite a failed or exceeded check.
	Warning string `json:"warning,omitempty"`

	// Budget is the budget position for cost-bearing endpoints.
	Budget *budget.Status `json:"budget,omitempty"`

	// Limit is the limit behind Remaining, used for X-RateLimit-Limit.
	Limit int64 `json:"-"`
}

// RetryAfter returns ResetInSeconds as a duration, zero when unset.
func (d *AdmissionDecision) RetryAfter() time.Duration {
	if d.ResetInSeconds == nil {
		return 0
	}
	return time.Duration(*d.ResetInSeconds) * time.Second
}

// Err returns nil for an admitted call and a *LimitError for a denial.
func (d *AdmissionDecision) Err() error {
	if d.Allowed {
		return nil
	}
	le := &LimitError{Kind: d.Kind, Reason: d.Reason, RetryAfter: d.RetryAfter()}
	switch d.Kind {
	case KindBudgetExceeded:
		le.Err = ErrBudgetExceeded
	case KindLedgerUnavailable:
		le.Err = ErrLedgerUnavailable
	default:
		le.Err = ErrRateLimited
	}
	return le
}

// DecisionEvent is one finished admission, handed to a DecisionRecorder.
type DecisionEvent struct {
	Time        time.Time
	UserID      string
	Endpoint    string
	Environment storage.Environment
	Decision    AdmissionDecision

	// DryRun is set when the decision was a denial admitted because of dry run.
	DryRun bool
}

// DecisionRecorder receives every admission decision. RecordDecision is called on
// the request path and must not block.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, event DecisionEvent)
}

// EndpointConfig describes how the gate treats one metered endpoint.
type EndpointConfig struct {
	// CostBearing endpoints run the budget pre-check after the rate limiter.
	CostBearing bool

	// EstimatedCost is compared against the safety threshold when the budget ledger
	// is unreachable.
	EstimatedCost money.Amount
}

// InvalidInputError is returned for missing or malformed identifiers and amounts.
// It is not retryable.
type InvalidInputError struct {
	Err error
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for error wrapping.
func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// LimitError provides detailed context about a denial.
// It wraps ErrRateLimited, ErrBudgetExceeded or ErrLedgerUnavailable.
type LimitError struct {
	// Kind is the decision kind that produced the error.
	Kind DecisionKind

	// Reason is the decision's reason.
	Reason string

	// RetryAfter is when the caller may retry, zero if unknown.
	RetryAfter time.Duration

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v: %s (retry after %s)", e.Err, e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

// Unwrap returns the underlying error for error wrapping.
func (e *LimitError) Unwrap() error {
	return e.Err
}
