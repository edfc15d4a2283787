package ratelimit

import (
	"modelbench/gatekeeper/pkg/limits/storage"
)

// Decision reasons.
const (
	ReasonUnconfigured   = "unconfigured"
	ReasonMinuteExceeded = "per-minute limit exceeded"
	ReasonHourExceeded   = "per-hour limit exceeded"
	ReasonDayExceeded    = "per-day limit exceeded"
)

// Limit identifies which window produced a denial.
type Limit string

const (
	LimitMinute Limit = "minute"
	LimitHour   Limit = "hour"
	LimitDay    Limit = "day"
)

// Decision is the result of CheckAndConsume.
type Decision struct {
	// Allowed indicates if the call may proceed.
	Allowed bool `json:"allowed"`

	// Reason explains a denial, or "unconfigured" for a fail-open admit.
	Reason string `json:"reason,omitempty"`

	// Remaining is max_calls_per_minute minus the new bucket count after an admitted call.
	// Nil when no limit applies.
	Remaining *int64 `json:"remaining"`

	// ResetInSeconds is the time until the binding window resets. Nil when no limit applies.
	ResetInSeconds *int64 `json:"reset_in_seconds"`

	// Limit is the window that denied the call. Empty when allowed.
	Limit Limit `json:"limit,omitempty"`

	// Max is the configured per-minute limit, or the denying window's limit on denial.
	Max int64 `json:"-"`
}

// UsageSnapshot reports current usage of one series against its limits.
type UsageSnapshot struct {
	UserID      string               `json:"user_id"`
	Endpoint    string               `json:"endpoint"`
	Environment storage.Environment  `json:"environment"`
	Minute      int64                `json:"minute"`
	Hour        int64                `json:"hour"`
	Day         int64                `json:"day"`
	Config      *storage.LimitConfig `json:"limits"`
}

func int64Ptr(v int64) *int64 {
	return &v
}
