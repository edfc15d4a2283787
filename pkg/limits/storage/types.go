package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"modelbench/gatekeeper/pkg/limits/money"
)

// Environment is the isolation axis for limits and budgets.
type Environment string

const (
	// Sandbox is the non-production environment.
	Sandbox Environment = "sandbox"

	// Production is the live environment.
	Production Environment = "production"
)

// MaxIdentifierLength bounds user ids and endpoint names.
const MaxIdentifierLength = 256

// Error taxonomy shared by every layer of the admission subsystem.
var (
	// ErrConfigMissing marks an (environment, endpoint) without a LimitConfig.
	// It is never returned to callers of the admission path, which fails open instead.
	ErrConfigMissing = errors.New("limit configuration missing")

	// ErrRateLimited marks a deny decision from the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBudgetExceeded marks a deny decision from hard budget enforcement.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrLedgerUnavailable is returned when a backing store cannot be reached in time.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrInvalidInput is returned for missing or malformed identifiers and amounts.
	ErrInvalidInput = errors.New("invalid input")
)

// ParseEnvironment parses "sandbox" or "production".
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(s))); env {
	case Sandbox, Production:
		return env, nil
	default:
		return "", fmt.Errorf("%w: environment must be %q or %q, got %q", ErrInvalidInput, Sandbox, Production, s)
	}
}

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == Sandbox || e == Production
}

// ValidateIdentifier checks a user id or endpoint name.
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if len(value) > MaxIdentifierLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, field, MaxIdentifierLength)
	}
	for _, r := range value {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %s contains whitespace or control characters", ErrInvalidInput, field)
		}
	}
	return nil
}

// LimitConfig holds the call limits for one (environment, endpoint) pair.
type LimitConfig struct {
	Environment       Environment `json:"environment" yaml:"environment"`
	Endpoint          string      `json:"endpoint" yaml:"endpoint"`
	MaxCallsPerMinute int64       `json:"max_calls_per_minute" yaml:"max_calls_per_minute"`
	MaxCallsPerHour   int64       `json:"max_calls_per_hour" yaml:"max_calls_per_hour"`
	MaxCallsPerDay    int64       `json:"max_calls_per_day" yaml:"max_calls_per_day"`
	UpdatedAt         time.Time   `json:"updated_at" yaml:"-"`
}

// Validate checks identifiers and that every limit is positive.
func (c LimitConfig) Validate() error {
	if !c.Environment.Valid() {
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidInput, c.Environment)
	}
	if err := ValidateIdentifier("endpoint", c.Endpoint); err != nil {
		return err
	}
	if c.MaxCallsPerMinute <= 0 || c.MaxCallsPerHour <= 0 || c.MaxCallsPerDay <= 0 {
		return fmt.Errorf("%w: limits for %s/%s must be positive", ErrInvalidInput, c.Environment, c.Endpoint)
	}
	return nil
}

// SeriesKey identifies the bucket series of one user, endpoint and environment.
type SeriesKey struct {
	UserID      string
	Endpoint    string
	Environment Environment
}

// BucketKey identifies one minute bucket. WindowStart is truncated to the minute in UTC.
type BucketKey struct {
	SeriesKey
	WindowStart time.Time
}

// NewBucketKey builds the key of the bucket that contains at.
func NewBucketKey(userID, endpoint string, env Environment, at time.Time) BucketKey {
	return BucketKey{
		SeriesKey:   SeriesKey{UserID: userID, Endpoint: endpoint, Environment: env},
		WindowStart: at.UTC().Truncate(time.Minute),
	}
}

// BudgetKey identifies the budget record of one accounting period.
type BudgetKey struct {
	UserID      string
	Environment Environment
	PeriodStart time.Time
}

// BudgetSettings is the user-editable part of a BudgetRecord.
//
// AlertThreshold is the fraction of MonthlyBudget at which the once-per-period alert
// fires. Zero turns the alert off rather than alerting on the first spend, and a
// record without a positive MonthlyBudget never alerts.
type BudgetSettings struct {
	MonthlyBudget             *money.Amount `json:"monthly_budget"`
	DailyLimit                *money.Amount `json:"daily_limit"`
	AlertThreshold            float64       `json:"alert_threshold"`
	EmailNotificationsEnabled bool          `json:"email_notifications_enabled"`
	NotificationEmail         *string       `json:"notification_email"`
}

// Validate checks caps and threshold ranges.
func (s BudgetSettings) Validate() error {
	if s.AlertThreshold < 0 || s.AlertThreshold > 1 {
		return fmt.Errorf("%w: alert_threshold must be between 0 and 1", ErrInvalidInput)
	}
	if s.MonthlyBudget != nil && s.MonthlyBudget.IsNegative() {
		return fmt.Errorf("%w: monthly_budget cannot be negative", ErrInvalidInput)
	}
	if s.DailyLimit != nil && s.DailyLimit.IsNegative() {
		return fmt.Errorf("%w: daily_limit cannot be negative", ErrInvalidInput)
	}
	if s.EmailNotificationsEnabled && (s.NotificationEmail == nil || !strings.Contains(*s.NotificationEmail, "@")) {
		return fmt.Errorf("%w: notification_email is required when email notifications are enabled", ErrInvalidInput)
	}
	return nil
}

// BudgetRecord tracks spend of one user and environment within one period.
type BudgetRecord struct {
	UserID      string      `json:"user_id"`
	Environment Environment `json:"environment"`
	PeriodStart time.Time   `json:"period_start"`

	BudgetSettings

	CurrentSpending money.Amount `json:"current_spending"`
	DailySpending   money.Amount `json:"daily_spending"`
	DayStart        time.Time    `json:"day_start"`
	AlertSent       bool         `json:"alert_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the record's identity.
func (r *BudgetRecord) Key() BudgetKey {
	return BudgetKey{UserID: r.UserID, Environment: r.Environment, PeriodStart: r.PeriodStart}
}

// SpentOn returns the daily spending if it belongs to day, otherwise zero.
func (r *BudgetRecord) SpentOn(day time.Time) money.Amount {
	if r.DayStart.Equal(day) {
		return r.DailySpending
	}
	return money.Zero
}

// LimitConfigStore holds LimitConfigs. GetLimitConfig returns nil, nil when absent.
type LimitConfigStore interface {
	GetLimitConfig(ctx context.Context, env Environment, endpoint string) (*LimitConfig, error)
	ListLimitConfigs(ctx context.Context) ([]LimitConfig, error)
	PutLimitConfig(ctx context.Context, cfg LimitConfig) error
	DeleteLimitConfig(ctx context.Context, env Environment, endpoint string) (bool, error)
}

// UsageLedger stores per-minute call counts.
type UsageLedger interface {
	// CountCalls returns calls_count of one bucket, 0 when it does not exist.
	CountCalls(ctx context.Context, key BucketKey) (int64, error)

	// SumCalls sums calls_count over buckets with from <= window_start <= to.
	SumCalls(ctx context.Context, series SeriesKey, from, to time.Time) (int64, error)

	// IncrementIfBelow atomically creates or increments the bucket while its count is
	// below limit. ok is false, and nothing is written, when the bucket is already full.
	// count is the new value and is only meaningful when ok is true.
	IncrementIfBelow(ctx context.Context, key BucketKey, limit int64) (count int64, ok bool, err error)

	// PruneBuckets deletes buckets whose window started before the cutoff.
	PruneBuckets(ctx context.Context, before time.Time) (int64, error)
}

// BudgetLedger stores BudgetRecords.
type BudgetLedger interface {
	// GetBudget returns the record for key, nil when absent.
	GetBudget(ctx context.Context, key BudgetKey) (*BudgetRecord, error)

	// LatestBudget returns the most recent record that started before the given period.
	LatestBudget(ctx context.Context, userID string, env Environment, before time.Time) (*BudgetRecord, error)

	// AddSpend atomically adds amount to current and daily spending, creating the record
	// from seed when it does not exist yet. day is the UTC date the spend belongs to.
	AddSpend(ctx context.Context, key BudgetKey, amount money.Amount, day time.Time, seed BudgetSettings) (*BudgetRecord, error)

	// UpdateBudgetSettings replaces the settings of the record, creating it with zero
	// spending when absent. Spending columns are never written.
	UpdateBudgetSettings(ctx context.Context, key BudgetKey, settings BudgetSettings) (*BudgetRecord, error)

	// MarkAlerted flips alert_sent from false to true and reports whether this call did it.
	MarkAlerted(ctx context.Context, key BudgetKey) (bool, error)

	// RearmAlert clears alert_sent.
	RearmAlert(ctx context.Context, key BudgetKey) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is a store that holds every ledger in one place.
type Backend interface {
	UsageLedger
	BudgetLedger
	LimitConfigStore
	Pinger

	// Close releases resources. The backend must not be used afterwards.
	Close() error
}
