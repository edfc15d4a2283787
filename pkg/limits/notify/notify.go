// Package notify delivers budget alert events to external channels.
//
// The subsystem's responsibility ends at emitting an Event; delivery failures are
// reported to the caller, which logs them and carries on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"modelbench/gatekeeper/pkg/limits/money"
)

// EventTypeBudgetThreshold is the type of the event raised when spend crosses the alert threshold.
const EventTypeBudgetThreshold = "budget.threshold_crossed"

// Event is a budget alert.
type Event struct {
	ID                string        `json:"id"`
	Type              string        `json:"type"`
	UserID            string        `json:"user_id"`
	Environment       string        `json:"environment"`
	RatioUsed         float64       `json:"ratio_used"`
	Threshold         float64       `json:"threshold"`
	PeriodStart       time.Time     `json:"period_start"`
	CurrentSpending   money.Amount  `json:"current_spending"`
	MonthlyBudget     *money.Amount `json:"monthly_budget,omitempty"`
	NotificationEmail string        `json:"-"`
	EmailEnabled      bool          `json:"-"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

// NewEvent creates a threshold event with a fresh id.
func NewEvent(userID, environment string, ratio, threshold float64, periodStart time.Time) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        EventTypeBudgetThreshold,
		UserID:      userID,
		Environment: environment,
		RatioUsed:   ratio,
		Threshold:   threshold,
		PeriodStart: periodStart,
		OccurredAt:  time.Now().UTC(),
	}
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.WarnContext(ctx, "budget alert threshold crossed",
		"event_id", event.ID,
		"user_id", event.UserID,
		"environment", event.Environment,
		"ratio_used", event.RatioUsed,
		"threshold", event.Threshold,
		"current_spending", event.CurrentSpending.String(),
		"period_start", event.PeriodStart.Format(time.DateOnly),
	)
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is called; the errors
// are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }
