package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

// runBackendContract exercises behavior every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("IncrementIfBelow", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		key := NewBucketKey("user-1", "chat", Sandbox, time.Now())

		for i := int64(1); i <= 3; i++ {
			count, ok, err := backend.IncrementIfBelow(ctx, key, 3)
			if err != nil {
				t.Fatalf("IncrementIfBelow failed: %v", err)
			}
			if !ok || count != i {
				t.Fatalf("call %d: got (%d, %v), want (%d, true)", i, count, ok, i)
			}
		}

		_, ok, err := backend.IncrementIfBelow(ctx, key, 3)
		if err != nil {
			t.Fatalf("IncrementIfBelow failed: %v", err)
		}
		if ok {
			t.Error("Expected increment to be refused at the limit")
		}

		count, err := backend.CountCalls(ctx, key)
		if err != nil {
			t.Fatalf("CountCalls failed: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected refused increment to leave count at 3, got %d", count)
		}
	})

	t.Run("CountMissingBucket", func(t *testing.T) {
		backend := newBackend(t)
		count, err := backend.CountCalls(context.Background(), NewBucketKey("nobody", "chat", Sandbox, time.Now()))
		if err != nil {
			t.Fatalf("CountCalls failed: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected 0, got %d", count)
		}
	})

	t.Run("SumCallsInclusiveRange", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Minute)

		for i := 0; i < 5; i++ {
			key := NewBucketKey("user-1", "chat", Sandbox, base.Add(-time.Duration(i)*time.Minute))
			for j := 0; j <= i; j++ {
				if _, _, err := backend.IncrementIfBelow(ctx, key, 100); err != nil {
					t.Fatalf("IncrementIfBelow failed: %v", err)
				}
			}
		}

		series := SeriesKey{UserID: "user-1", Endpoint: "chat", Environment: Sandbox}
		// Buckets hold 1,2,3,4,5 calls at offsets 0..4 minutes back.
		total, err := backend.SumCalls(ctx, series, base.Add(-2*time.Minute), base)
		if err != nil {
			t.Fatalf("SumCalls failed: %v", err)
		}
		if total != 6 {
			t.Errorf("Expected 6 calls in the last three minutes, got %d", total)
		}

		other := SeriesKey{UserID: "user-1", Endpoint: "chat", Environment: Production}
		total, err = backend.SumCalls(ctx, other, base.Add(-time.Hour), base)
		if err != nil {
			t.Fatalf("SumCalls failed: %v", err)
		}
		if total != 0 {
			t.Errorf("Expected environments to be isolated, got %d", total)
		}
	})

	t.Run("ConcurrentIncrementsNeverExceedLimit", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		key := NewBucketKey("user-1", "chat", Production, time.Now())

		const limit = 10
		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := backend.IncrementIfBelow(ctx, key, limit)
				if err != nil {
					t.Errorf("IncrementIfBelow failed: %v", err)
					return
				}
				if ok {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := admitted.Load(); got != limit {
			t.Errorf("Expected exactly %d admitted increments, got %d", limit, got)
		}
		count, err := backend.CountCalls(ctx, key)
		if err != nil {
			t.Fatalf("CountCalls failed: %v", err)
		}
		if count != limit {
			t.Errorf("Expected bucket count %d, got %d", limit, count)
		}
	})

	t.Run("AddSpend", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		day1 := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
		day2 := day1.AddDate(0, 0, 1)
		key := BudgetKey{UserID: "user-1", Environment: Production, PeriodStart: period}

		monthly := money.MustParse("100")
		seed := BudgetSettings{MonthlyBudget: &monthly, AlertThreshold: 0.8}

		rec, err := backend.AddSpend(ctx, key, money.MustParse("12.5"), day1, seed)
		if err != nil {
			t.Fatalf("AddSpend failed: %v", err)
		}
		if rec.CurrentSpending != money.MustParse("12.5") || rec.DailySpending != money.MustParse("12.5") {
			t.Errorf("Unexpected spending after first add: %s / %s", rec.CurrentSpending, rec.DailySpending)
		}
		if rec.MonthlyBudget == nil || *rec.MonthlyBudget != monthly {
			t.Errorf("Expected record to be seeded with monthly budget 100, got %v", rec.MonthlyBudget)
		}

		rec, err = backend.AddSpend(ctx, key, money.MustParse("2.5"), day1, BudgetSettings{})
		if err != nil {
			t.Fatalf("AddSpend failed: %v", err)
		}
		if rec.CurrentSpending != money.MustParse("15") || rec.DailySpending != money.MustParse("15") {
			t.Errorf("Unexpected spending after second add: %s / %s", rec.CurrentSpending, rec.DailySpending)
		}
		if rec.MonthlyBudget == nil {
			t.Error("Expected seed to be ignored for an existing record")
		}

		rec, err = backend.AddSpend(ctx, key, money.MustParse("1"), day2, seed)
		if err != nil {
			t.Fatalf("AddSpend failed: %v", err)
		}
		if rec.CurrentSpending != money.MustParse("16") {
			t.Errorf("Expected current spending 16, got %s", rec.CurrentSpending)
		}
		if rec.DailySpending != money.MustParse("1") || !rec.DayStart.Equal(day2) {
			t.Errorf("Expected daily spending to reset on a new day, got %s on %s", rec.DailySpending, rec.DayStart)
		}
	})

	t.Run("ConcurrentAddSpend", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		day := time.Now().UTC().Truncate(24 * time.Hour)
		key := BudgetKey{UserID: "user-1", Environment: Sandbox, PeriodStart: day}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := backend.AddSpend(ctx, key, money.MustParse("0.1"), day, BudgetSettings{AlertThreshold: 0.8}); err != nil {
					t.Errorf("AddSpend failed: %v", err)
				}
			}()
		}
		wg.Wait()

		rec, err := backend.GetBudget(ctx, key)
		if err != nil {
			t.Fatalf("GetBudget failed: %v", err)
		}
		if rec == nil || rec.CurrentSpending != money.MustParse("2") {
			t.Errorf("Expected no lost updates (2.0), got %v", rec)
		}
	})

	t.Run("BudgetSettingsAndAlert", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		key := BudgetKey{UserID: "user-2", Environment: Sandbox, PeriodStart: period}

		if rec, err := backend.GetBudget(ctx, key); err != nil || rec != nil {
			t.Fatalf("Expected no record, got %v, %v", rec, err)
		}

		email := "ops@example.com"
		monthly := money.MustParse("50")
		rec, err := backend.UpdateBudgetSettings(ctx, key, BudgetSettings{
			MonthlyBudget:             &monthly,
			AlertThreshold:            0.9,
			EmailNotificationsEnabled: true,
			NotificationEmail:         &email,
		})
		if err != nil {
			t.Fatalf("UpdateBudgetSettings failed: %v", err)
		}
		if !rec.CurrentSpending.IsZero() || rec.AlertThreshold != 0.9 {
			t.Errorf("Unexpected record after settings update: %+v", rec)
		}

		if _, err := backend.AddSpend(ctx, key, money.MustParse("3"), period, BudgetSettings{}); err != nil {
			t.Fatalf("AddSpend failed: %v", err)
		}
		rec, err = backend.UpdateBudgetSettings(ctx, key, BudgetSettings{AlertThreshold: 0.5})
		if err != nil {
			t.Fatalf("UpdateBudgetSettings failed: %v", err)
		}
		if rec.CurrentSpending != money.MustParse("3") {
			t.Errorf("Expected settings update to keep spending, got %s", rec.CurrentSpending)
		}
		if rec.MonthlyBudget != nil || rec.NotificationEmail != nil {
			t.Errorf("Expected settings to be replaced, got %+v", rec.BudgetSettings)
		}

		first, err := backend.MarkAlerted(ctx, key)
		if err != nil {
			t.Fatalf("MarkAlerted failed: %v", err)
		}
		second, err := backend.MarkAlerted(ctx, key)
		if err != nil {
			t.Fatalf("MarkAlerted failed: %v", err)
		}
		if !first || second {
			t.Errorf("Expected only the first MarkAlerted to win, got %v then %v", first, second)
		}

		if err := backend.RearmAlert(ctx, key); err != nil {
			t.Fatalf("RearmAlert failed: %v", err)
		}
		again, err := backend.MarkAlerted(ctx, key)
		if err != nil {
			t.Fatalf("MarkAlerted failed: %v", err)
		}
		if !again {
			t.Error("Expected MarkAlerted to win after RearmAlert")
		}
	})

	t.Run("LatestBudget", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		for i, period := range []time.Time{jan, feb} {
			key := BudgetKey{UserID: "user-3", Environment: Production, PeriodStart: period}
			if _, err := backend.UpdateBudgetSettings(ctx, key, BudgetSettings{AlertThreshold: 0.5 + float64(i)/10}); err != nil {
				t.Fatalf("UpdateBudgetSettings failed: %v", err)
			}
		}

		rec, err := backend.LatestBudget(ctx, "user-3", Production, mar)
		if err != nil {
			t.Fatalf("LatestBudget failed: %v", err)
		}
		if rec == nil || !rec.PeriodStart.Equal(feb) {
			t.Fatalf("Expected February record, got %v", rec)
		}

		rec, err = backend.LatestBudget(ctx, "user-3", Production, jan)
		if err != nil {
			t.Fatalf("LatestBudget failed: %v", err)
		}
		if rec != nil {
			t.Errorf("Expected nothing before January, got %v", rec)
		}
	})

	t.Run("LimitConfigs", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		cfg, err := backend.GetLimitConfig(ctx, Sandbox, "chat")
		if err != nil || cfg != nil {
			t.Fatalf("Expected no config, got %v, %v", cfg, err)
		}

		want := LimitConfig{Environment: Sandbox, Endpoint: "chat", MaxCallsPerMinute: 5, MaxCallsPerHour: 100, MaxCallsPerDay: 1000}
		if err := backend.PutLimitConfig(ctx, want); err != nil {
			t.Fatalf("PutLimitConfig failed: %v", err)
		}
		want.MaxCallsPerMinute = 7
		if err := backend.PutLimitConfig(ctx, want); err != nil {
			t.Fatalf("PutLimitConfig overwrite failed: %v", err)
		}
		if err := backend.PutLimitConfig(ctx, LimitConfig{Environment: Production, Endpoint: "chat", MaxCallsPerMinute: 1, MaxCallsPerHour: 1, MaxCallsPerDay: 1}); err != nil {
			t.Fatalf("PutLimitConfig failed: %v", err)
		}

		cfg, err = backend.GetLimitConfig(ctx, Sandbox, "chat")
		if err != nil {
			t.Fatalf("GetLimitConfig failed: %v", err)
		}
		if cfg == nil || cfg.MaxCallsPerMinute != 7 || cfg.MaxCallsPerDay != 1000 {
			t.Errorf("Unexpected config: %+v", cfg)
		}

		all, err := backend.ListLimitConfigs(ctx)
		if err != nil {
			t.Fatalf("ListLimitConfigs failed: %v", err)
		}
		if len(all) != 2 || all[0].Environment != Production || all[1].Environment != Sandbox {
			t.Errorf("Expected two configs ordered by environment, got %+v", all)
		}

		err = backend.PutLimitConfig(ctx, LimitConfig{Environment: Sandbox, Endpoint: "chat", MaxCallsPerMinute: 0, MaxCallsPerHour: 1, MaxCallsPerDay: 1})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for zero limit, got %v", err)
		}

		deleted, err := backend.DeleteLimitConfig(ctx, Sandbox, "chat")
		if err != nil || !deleted {
			t.Fatalf("DeleteLimitConfig = %v, %v", deleted, err)
		}
		deleted, err = backend.DeleteLimitConfig(ctx, Sandbox, "chat")
		if err != nil || deleted {
			t.Errorf("Second DeleteLimitConfig = %v, %v; want false, nil", deleted, err)
		}
	})

	t.Run("PruneBuckets", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Minute)

		old := NewBucketKey("user-1", "chat", Sandbox, now.Add(-72*time.Hour))
		fresh := NewBucketKey("user-1", "chat", Sandbox, now)
		for _, key := range []BucketKey{old, fresh} {
			if _, _, err := backend.IncrementIfBelow(ctx, key, 10); err != nil {
				t.Fatalf("IncrementIfBelow failed: %v", err)
			}
		}

		deleted, err := backend.PruneBuckets(ctx, now.Add(-48*time.Hour))
		if err != nil {
			t.Fatalf("PruneBuckets failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("Expected 1 pruned bucket, got %d", deleted)
		}
		if count, _ := backend.CountCalls(ctx, fresh); count != 1 {
			t.Errorf("Expected fresh bucket to survive, got %d", count)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newBackend(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestMemoryBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		backend := NewMemoryBackend()
		t.Cleanup(func() { backend.Close() })
		return backend
	})
}

func TestSQLiteBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		return newTestSQLiteBackend(t)
	})
}
