package budget

import (
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

// DefaultAlertThreshold is used when neither a previous period nor configuration sets one.
const DefaultAlertThreshold = 0.8

// Status reasons.
const (
	ReasonMonthlyExhausted = "monthly budget exhausted"
	ReasonDailyExhausted   = "daily limit exhausted"
)

// Status contains the budget position of one user and environment in the current period.
type Status struct {
	// WithinLimits is false when spending reached the monthly budget or today's
	// spending reached the daily limit.
	WithinLimits bool `json:"within_limits"`

	// Reason explains WithinLimits=false.
	Reason string `json:"reason,omitempty"`

	// RatioUsed is current spending over the monthly budget, 0 without a budget.
	RatioUsed float64 `json:"ratio_used"`

	// AlertTriggered reports, for RecordSpend, whether this spend raised the alert and,
	// for CheckBudget, whether the alert has been raised in this period.
	AlertTriggered bool `json:"alert_triggered"`

	Spent          money.Amount  `json:"current_spending"`
	MonthlyBudget  *money.Amount `json:"monthly_budget"`
	DailyLimit     *money.Amount `json:"daily_limit"`
	DailySpent     money.Amount  `json:"daily_spending"`
	AlertThreshold float64       `json:"alert_threshold"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
}

// Remaining returns what is left of the monthly budget, nil when there is no budget.
func (s *Status) Remaining() *money.Amount {
	if s.MonthlyBudget == nil {
		return nil
	}
	r := s.MonthlyBudget.Sub(s.Spent)
	if r.IsNegative() {
		r = money.Zero
	}
	return &r
}

// PeriodStart returns the start of the calendar month (UTC) containing t.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the start of the period after the one containing t.
func PeriodEnd(t time.Time) time.Time {
	return PeriodStart(t).AddDate(0, 1, 0)
}

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
