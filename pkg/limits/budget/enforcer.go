package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/notify"
	"modelbench/gatekeeper/pkg/limits/storage"
)

// Config configures an Enforcer.
type Config struct {
	// Defaults seed the first record of a user that has no earlier period.
	// A zero AlertThreshold becomes DefaultAlertThreshold.
	Defaults storage.BudgetSettings

	// NotifyTimeout bounds alert delivery. Default: 5 seconds
	NotifyTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Enforcer tracks spend against monthly budgets and daily limits and raises the
// threshold alert once per period.
//
// Spend is added with a single atomic upsert in the BudgetLedger; the alert is claimed
// with a conditional update, so among concurrent callers crossing the threshold only
// one emits the event.
type Enforcer struct {
	ledger   storage.BudgetLedger
	notifier notify.Notifier
	defaults storage.BudgetSettings
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewEnforcer creates an enforcer. A nil notifier discards alerts.
func NewEnforcer(ledger storage.BudgetLedger, notifier notify.Notifier, cfg Config) *Enforcer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.Defaults.AlertThreshold == 0 {
		cfg.Defaults.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Enforcer{
		ledger:   ledger,
		notifier: notifier,
		defaults: cfg.Defaults,
		timeout:  cfg.NotifyTimeout,
		logger:   cfg.Logger.With("component", "budget"),
		now:      cfg.Now,
	}
}

func validateOwner(userID string, env storage.Environment) error {
	if err := storage.ValidateIdentifier("user_id", userID); err != nil {
		return err
	}
	if !env.Valid() {
		return fmt.Errorf("%w: unknown environment %q", storage.ErrInvalidInput, env)
	}
	return nil
}

func (e *Enforcer) key(userID string, env storage.Environment, now time.Time) storage.BudgetKey {
	return storage.BudgetKey{UserID: userID, Environment: env, PeriodStart: PeriodStart(now)}
}

// RecordSpend adds the actual cost of a completed call to the current period.
//
// The period's record is created on first spend, seeded with the settings of the
// user's previous period (or the configured defaults). When this spend takes the ratio
// to or past the alert threshold and the alert has not been raised yet, the alert event
// is emitted and Status.AlertTriggered is true.
func (e *Enforcer) RecordSpend(ctx context.Context, userID string, env storage.Environment, amount money.Amount) (*Status, error) {
	if err := validateOwner(userID, env); err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: spend amount cannot be negative", storage.ErrInvalidInput)
	}

	now := e.now()
	key := e.key(userID, env, now)

	seed, err := e.seedFor(ctx, key)
	if err != nil {
		return nil, err
	}

	rec, err := e.ledger.AddSpend(ctx, key, amount, DayStart(now), seed)
	if err != nil {
		return nil, fmt.Errorf("failed to record spend: %w", err)
	}

	status := e.statusOf(rec, now)
	status.AlertTriggered = false

	if alertDue(rec) && !rec.AlertSent {
		won, err := e.ledger.MarkAlerted(ctx, key)
		if err != nil {
			// The spend is recorded; a later spend retries the alert.
			e.logger.Error("failed to claim budget alert",
				"user_id", userID, "environment", env, "error", err)
		} else if won {
			status.AlertTriggered = true
			e.emit(ctx, rec, status)
		}
	}

	return status, nil
}

// seedFor returns the settings a new record for key starts with. Existing records
// ignore the seed, so it is only computed when the record is missing.
func (e *Enforcer) seedFor(ctx context.Context, key storage.BudgetKey) (storage.BudgetSettings, error) {
	current, err := e.ledger.GetBudget(ctx, key)
	if err != nil {
		return storage.BudgetSettings{}, fmt.Errorf("failed to load budget: %w", err)
	}
	if current != nil {
		return current.BudgetSettings, nil
	}

	prev, err := e.ledger.LatestBudget(ctx, key.UserID, key.Environment, key.PeriodStart)
	if err != nil {
		return storage.BudgetSettings{}, fmt.Errorf("failed to load previous budget: %w", err)
	}
	if prev != nil {
		return prev.BudgetSettings, nil
	}
	return e.defaults, nil
}

// CheckBudget reports the current position without changing anything.
// A user without a record in this period is within limits with ratio 0.
func (e *Enforcer) CheckBudget(ctx context.Context, userID string, env storage.Environment) (*Status, error) {
	if err := validateOwner(userID, env); err != nil {
		return nil, err
	}

	now := e.now()
	rec, err := e.ledger.GetBudget(ctx, e.key(userID, env, now))
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	if rec == nil {
		return &Status{
			WithinLimits:   true,
			AlertThreshold: e.defaults.AlertThreshold,
			PeriodStart:    PeriodStart(now),
			PeriodEnd:      PeriodEnd(now),
		}, nil
	}
	return e.statusOf(rec, now), nil
}

// GetRecord returns the current period's record, nil when the user has not spent yet.
func (e *Enforcer) GetRecord(ctx context.Context, userID string, env storage.Environment) (*storage.BudgetRecord, error) {
	if err := validateOwner(userID, env); err != nil {
		return nil, err
	}
	rec, err := e.ledger.GetBudget(ctx, e.key(userID, env, e.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return rec, nil
}

// UpdateSettings replaces caps, threshold and notification preferences of the current
// period. Spending is never modified. When the new settings put the record back below
// its threshold, the alert is re-armed so the next crossing alerts again.
func (e *Enforcer) UpdateSettings(ctx context.Context, userID string, env storage.Environment, settings storage.BudgetSettings) (*storage.BudgetRecord, error) {
	if err := validateOwner(userID, env); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	key := e.key(userID, env, e.now())
	rec, err := e.ledger.UpdateBudgetSettings(ctx, key, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to update budget settings: %w", err)
	}

	if rec.AlertSent && !alertDue(rec) {
		if err := e.ledger.RearmAlert(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to rearm budget alert: %w", err)
		}
		rec.AlertSent = false
		e.logger.Info("budget alert re-armed", "user_id", userID, "environment", env)
	}

	return rec, nil
}

// Defaults returns the settings new users start with.
func (e *Enforcer) Defaults() storage.BudgetSettings {
	return e.defaults
}

func (e *Enforcer) statusOf(rec *storage.BudgetRecord, now time.Time) *Status {
	s := &Status{
		WithinLimits:   true,
		AlertTriggered: rec.AlertSent,
		Spent:          rec.CurrentSpending,
		MonthlyBudget:  rec.MonthlyBudget,
		DailyLimit:     rec.DailyLimit,
		DailySpent:     rec.SpentOn(DayStart(now)),
		AlertThreshold: rec.AlertThreshold,
		PeriodStart:    rec.PeriodStart,
		PeriodEnd:      PeriodEnd(rec.PeriodStart),
	}
	if rec.MonthlyBudget != nil {
		s.RatioUsed = rec.CurrentSpending.Ratio(*rec.MonthlyBudget)
		if rec.CurrentSpending >= *rec.MonthlyBudget {
			s.WithinLimits = false
			s.Reason = ReasonMonthlyExhausted
		}
	}
	if s.WithinLimits && rec.DailyLimit != nil && s.DailySpent >= *rec.DailyLimit {
		s.WithinLimits = false
		s.Reason = ReasonDailyExhausted
	}
	return s
}

// alertDue reports whether spending is at or past the alert threshold. A record
// without a positive budget or with a zero threshold never alerts.
func alertDue(rec *storage.BudgetRecord) bool {
	if rec.MonthlyBudget == nil || *rec.MonthlyBudget <= 0 || rec.AlertThreshold <= 0 {
		return false
	}
	return rec.CurrentSpending >= rec.MonthlyBudget.MulFraction(rec.AlertThreshold)
}

func (e *Enforcer) emit(ctx context.Context, rec *storage.BudgetRecord, status *Status) {
	event := notify.NewEvent(rec.UserID, string(rec.Environment), status.RatioUsed, rec.AlertThreshold, rec.PeriodStart)
	event.CurrentSpending = rec.CurrentSpending
	event.MonthlyBudget = rec.MonthlyBudget
	event.EmailEnabled = rec.EmailNotificationsEnabled
	if rec.NotificationEmail != nil {
		event.NotificationEmail = *rec.NotificationEmail
	}

	// Delivery outlives the request that crossed the threshold.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.notifier.Notify(notifyCtx, event); err != nil {
		e.logger.Error("failed to deliver budget alert",
			"event_id", event.ID,
			"user_id", rec.UserID,
			"environment", rec.Environment,
			"error", err,
		)
		return
	}

	e.logger.Info("budget alert emitted",
		"event_id", event.ID,
		"user_id", rec.UserID,
		"environment", rec.Environment,
		"ratio_used", status.RatioUsed,
	)
}
