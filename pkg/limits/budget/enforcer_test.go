package budget

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/notify"
	"modelbench/gatekeeper/pkg/limits/storage"
)

// recordingNotifier keeps every event it receives.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func amountPtr(s string) *money.Amount {
	a := money.MustParse(s)
	return &a
}

func newTestEnforcer(t *testing.T, ledger storage.BudgetLedger, at time.Time) (*Enforcer, *recordingNotifier, *fixedClock) {
	t.Helper()
	if ledger == nil {
		backend := storage.NewMemoryBackend()
		t.Cleanup(func() { backend.Close() })
		ledger = backend
	}
	rec := &recordingNotifier{}
	clock := &fixedClock{now: at}
	e := NewEnforcer(ledger, rec, Config{Now: clock.Now})
	return e, rec, clock
}

func setBudget(t *testing.T, e *Enforcer, userID, monthly string) {
	t.Helper()
	_, err := e.UpdateSettings(context.Background(), userID, storage.Production, storage.BudgetSettings{
		MonthlyBudget:  amountPtr(monthly),
		AlertThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
}

func TestEnforcer_AlertFiresOnce(t *testing.T) {
	ctx := context.Background()
	e, rec, _ := newTestEnforcer(t, nil, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	setBudget(t, e, "user-1", "100")

	status, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("70"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if status.AlertTriggered || rec.count() != 0 {
		t.Fatal("Expected no alert at 70%")
	}

	status, err = e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("15"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if !status.AlertTriggered {
		t.Error("Expected alert when crossing 80%")
	}
	if status.RatioUsed != 0.85 {
		t.Errorf("Expected ratio 0.85, got %v", status.RatioUsed)
	}
	if rec.count() != 1 {
		t.Fatalf("Expected one event, got %d", rec.count())
	}

	ev := rec.events[0]
	if ev.UserID != "user-1" || ev.Environment != "production" || ev.RatioUsed != 0.85 {
		t.Errorf("Unexpected event %+v", ev)
	}
	if !ev.PeriodStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected period start %v", ev.PeriodStart)
	}

	status, err = e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("5"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if status.AlertTriggered {
		t.Error("Expected no second alert at 90%")
	}
	if rec.count() != 1 {
		t.Errorf("Expected still one event, got %d", rec.count())
	}
}

func TestEnforcer_PeriodRollover(t *testing.T) {
	ctx := context.Background()
	e, rec, clock := newTestEnforcer(t, nil, time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC))
	setBudget(t, e, "user-1", "100")

	if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("95")); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("Expected alert in March, got %d", rec.count())
	}

	clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	status, err := e.CheckBudget(ctx, "user-1", storage.Production)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if !status.WithinLimits || status.RatioUsed != 0 || status.Spent != 0 {
		t.Errorf("Expected a fresh period, got %+v", status)
	}

	status, err = e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("10"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if status.Spent != money.MustParse("10") {
		t.Errorf("Expected April spending 10, got %s", status.Spent)
	}
	if status.MonthlyBudget == nil || *status.MonthlyBudget != money.MustParse("100") {
		t.Errorf("Expected budget to carry over, got %v", status.MonthlyBudget)
	}
	if !status.PeriodStart.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected period start %v", status.PeriodStart)
	}

	// The April record has its own alert flag.
	if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("75")); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("Expected an alert in April, got %d events", rec.count())
	}
}

func TestEnforcer_FirstSpendUsesDefaults(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })

	e := NewEnforcer(backend, nil, Config{
		Defaults: storage.BudgetSettings{MonthlyBudget: amountPtr("50")},
		Now:      func() time.Time { return time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC) },
	})

	status, err := e.RecordSpend(ctx, "new-user", storage.Sandbox, money.MustParse("0.25"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if status.Spent != money.MustParse("0.25") {
		t.Errorf("Expected spending 0.25, got %s", status.Spent)
	}
	if status.MonthlyBudget == nil || *status.MonthlyBudget != money.MustParse("50") {
		t.Errorf("Expected default budget, got %v", status.MonthlyBudget)
	}
	if status.AlertThreshold != DefaultAlertThreshold {
		t.Errorf("Expected default threshold, got %v", status.AlertThreshold)
	}

	rec, err := e.GetRecord(ctx, "new-user", storage.Sandbox)
	if err != nil || rec == nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.AlertThreshold != DefaultAlertThreshold {
		t.Errorf("Expected persisted default threshold, got %v", rec.AlertThreshold)
	}
}

func TestEnforcer_CheckBudget(t *testing.T) {
	ctx := context.Background()
	e, _, clock := newTestEnforcer(t, nil, time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC))

	status, err := e.CheckBudget(ctx, "nobody", storage.Production)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if !status.WithinLimits || status.RatioUsed != 0 {
		t.Errorf("Expected missing record within limits, got %+v", status)
	}
	if rec, _ := e.GetRecord(ctx, "nobody", storage.Production); rec != nil {
		t.Error("CheckBudget must not create a record")
	}

	_, err = e.UpdateSettings(ctx, "user-1", storage.Production, storage.BudgetSettings{
		MonthlyBudget:  amountPtr("10"),
		DailyLimit:     amountPtr("2"),
		AlertThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("2")); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}

	status, _ = e.CheckBudget(ctx, "user-1", storage.Production)
	if status.WithinLimits || status.Reason != ReasonDailyExhausted {
		t.Errorf("Expected daily limit exhausted, got %+v", status)
	}

	// Next day the daily allowance is back.
	clock.Set(time.Date(2026, 6, 16, 0, 0, 1, 0, time.UTC))
	status, _ = e.CheckBudget(ctx, "user-1", storage.Production)
	if !status.WithinLimits || status.DailySpent != 0 {
		t.Errorf("Expected new day within limits, got %+v", status)
	}

	for i := 0; i < 4; i++ {
		clock.Set(time.Date(2026, 6, 17+i, 9, 0, 0, 0, time.UTC))
		if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("2")); err != nil {
			t.Fatalf("RecordSpend failed: %v", err)
		}
	}

	clock.Set(time.Date(2026, 6, 25, 9, 0, 0, 0, time.UTC))
	status, _ = e.CheckBudget(ctx, "user-1", storage.Production)
	if status.WithinLimits || status.Reason != ReasonMonthlyExhausted {
		t.Errorf("Expected monthly budget exhausted, got %+v", status)
	}
	if status.RatioUsed != 1 {
		t.Errorf("Expected ratio 1, got %v", status.RatioUsed)
	}
	if r := status.Remaining(); r == nil || *r != 0 {
		t.Errorf("Expected nothing remaining, got %v", r)
	}
}

func TestEnforcer_NoBudgetNeverAlerts(t *testing.T) {
	ctx := context.Background()
	e, rec, _ := newTestEnforcer(t, nil, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	status, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("1000"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if !status.WithinLimits || status.RatioUsed != 0 || rec.count() != 0 {
		t.Errorf("Expected no limits and no alert, got %+v", status)
	}

	// A zero threshold disables alerts even with a budget.
	_, err = e.UpdateSettings(ctx, "user-2", storage.Production, storage.BudgetSettings{MonthlyBudget: amountPtr("1")})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if _, err := e.RecordSpend(ctx, "user-2", storage.Production, money.MustParse("5")); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("Expected no alert with zero threshold, got %d", rec.count())
	}
}

func TestEnforcer_UpdateSettingsRearmsAlert(t *testing.T) {
	ctx := context.Background()
	e, rec, _ := newTestEnforcer(t, nil, time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	setBudget(t, e, "user-1", "100")

	if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("85")); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("Expected first alert, got %d", rec.count())
	}

	// Still above the threshold: stays armed-off.
	updated, err := e.UpdateSettings(ctx, "user-1", storage.Production, storage.BudgetSettings{
		MonthlyBudget: amountPtr("100"), AlertThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if !updated.AlertSent {
		t.Error("Expected alert to stay sent while above threshold")
	}

	updated, err = e.UpdateSettings(ctx, "user-1", storage.Production, storage.BudgetSettings{
		MonthlyBudget: amountPtr("200"), AlertThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if updated.AlertSent {
		t.Error("Expected alert re-armed after raising the budget")
	}
	if updated.CurrentSpending != money.MustParse("85") {
		t.Errorf("Settings update must not touch spending, got %s", updated.CurrentSpending)
	}

	if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("80")); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("Expected a second alert after re-arm, got %d", rec.count())
	}
}

func TestEnforcer_NotifierFailureDoesNotFailSpend(t *testing.T) {
	ctx := context.Background()
	e, rec, _ := newTestEnforcer(t, nil, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec.err = errors.New("smtp down")
	setBudget(t, e, "user-1", "10")

	status, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("9"))
	if err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if !status.AlertTriggered || status.Spent != money.MustParse("9") {
		t.Errorf("Expected recorded spend with alert, got %+v", status)
	}
}

func TestEnforcer_AlertDeliveryIsBounded(t *testing.T) {
	backend := storage.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })

	var hasDeadline bool
	n := notify.NotifierFunc(func(ctx context.Context, e notify.Event) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	e := NewEnforcer(backend, n, Config{
		NotifyTimeout: time.Second,
		Now:           func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) },
	})
	setBudget(t, e, "user-1", "1")

	status, err := e.RecordSpend(context.Background(), "user-1", storage.Production, money.MustParse("1"))
	if err != nil || !status.AlertTriggered {
		t.Fatalf("Expected alert, got %+v, %v", status, err)
	}
	if !hasDeadline {
		t.Error("Expected notifier context to carry a deadline")
	}
}

func TestEnforcer_InvalidInput(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEnforcer(t, nil, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		userID string
		env    storage.Environment
		amount money.Amount
	}{
		{"empty user", "", storage.Production, 1},
		{"bad environment", "user-1", "staging", 1},
		{"negative amount", "user-1", storage.Production, money.MustParse("-0.01")},
		{"whitespace user", "user 1", storage.Sandbox, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.RecordSpend(ctx, tt.userID, tt.env, tt.amount)
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}

	_, err := e.UpdateSettings(ctx, "user-1", storage.Production, storage.BudgetSettings{AlertThreshold: 1.5})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for threshold 1.5, got %v", err)
	}
}

func TestEnforcer_ConcurrentSpend(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.BudgetLedger{
		"memory": func(t *testing.T) storage.BudgetLedger {
			b := storage.NewMemoryBackend()
			t.Cleanup(func() { b.Close() })
			return b
		},
		"sqlite": func(t *testing.T) storage.BudgetLedger {
			b, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "budget.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend failed: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
	}

	for name, newLedger := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e, rec, _ := newTestEnforcer(t, newLedger(t), time.Date(2026, 9, 9, 9, 0, 0, 0, time.UTC))
			setBudget(t, e, "user-1", "10")

			const workers = 40
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := e.RecordSpend(ctx, "user-1", storage.Production, money.MustParse("0.25")); err != nil {
						t.Errorf("RecordSpend failed: %v", err)
					}
				}()
			}
			wg.Wait()

			status, err := e.CheckBudget(ctx, "user-1", storage.Production)
			if err != nil {
				t.Fatalf("CheckBudget failed: %v", err)
			}
			if status.Spent != money.MustParse("10") {
				t.Errorf("Expected spending 10, got %s", status.Spent)
			}
			if rec.count() != 1 {
				t.Errorf("Expected exactly one alert, got %d", rec.count())
			}
		})
	}
}

func TestPeriodHelpers(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, 12, 31, 22, 0, 0, 0, est) // 2027-01-01 03:00 UTC

	if got := PeriodStart(at); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PeriodStart = %v", got)
	}
	if got := PeriodEnd(at); !got.Equal(time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PeriodEnd = %v", got)
	}
	if got := DayStart(at); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DayStart = %v", got)
	}
}
