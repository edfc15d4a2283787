package ratelimit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelbench/gatekeeper/pkg/limits/storage"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestLimiter(t *testing.T, at time.Time, cfgs ...storage.LimitConfig) (*Limiter, *storage.MemoryBackend, *testClock) {
	t.Helper()

	backend := storage.NewMemoryBackendWithConfig(storage.MemoryBackendConfig{Retention: 72 * time.Hour})
	t.Cleanup(func() { backend.Close() })

	for _, cfg := range cfgs {
		if err := backend.PutLimitConfig(context.Background(), cfg); err != nil {
			t.Fatalf("PutLimitConfig failed: %v", err)
		}
	}

	clock := &testClock{now: at}
	return NewLimiter(backend, backend, WithClock(clock.Now)), backend, clock
}

func comparisonConfig(perMinute, perHour, perDay int64) storage.LimitConfig {
	return storage.LimitConfig{
		Environment:       storage.Sandbox,
		Endpoint:          "run-comparison",
		MaxCallsPerMinute: perMinute,
		MaxCallsPerHour:   perHour,
		MaxCallsPerDay:    perDay,
	}
}

// TestLimiter_FiveCallExample walks the documented example: five calls admitted with
// remaining 4..0, then a denial with a reset inside the minute.
func TestLimiter_FiveCallExample(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 30, 15, 0, time.UTC)
	limiter, _, _ := newTestLimiter(t, at, comparisonConfig(5, 100, 1000))
	ctx := context.Background()

	for want := int64(4); want >= 0; want-- {
		d, err := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
		if err != nil {
			t.Fatalf("CheckAndConsume failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("Expected call to be allowed, got %+v", d)
		}
		if d.Remaining == nil || *d.Remaining != want {
			t.Errorf("Expected remaining %d, got %v", want, d.Remaining)
		}
	}

	d, err := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if err != nil {
		t.Fatalf("CheckAndConsume failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("Expected sixth call to be denied")
	}
	if d.Reason != ReasonMinuteExceeded {
		t.Errorf("Expected reason %q, got %q", ReasonMinuteExceeded, d.Reason)
	}
	if d.ResetInSeconds == nil || *d.ResetInSeconds != 45 {
		t.Errorf("Expected reset in 45s, got %v", d.ResetInSeconds)
	}
}

func TestLimiter_DenialDoesNotConsume(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter, backend, _ := newTestLimiter(t, at, comparisonConfig(2, 100, 1000))
	ctx := context.Background()
	key := storage.NewBucketKey("user-1", "run-comparison", storage.Sandbox, at)

	for i := 0; i < 2; i++ {
		if _, err := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox); err != nil {
			t.Fatalf("CheckAndConsume failed: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		d, err := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
		if err != nil {
			t.Fatalf("CheckAndConsume failed: %v", err)
		}
		if d.Allowed {
			t.Fatal("Expected denial at the limit")
		}
	}

	count, err := backend.CountCalls(ctx, key)
	if err != nil {
		t.Fatalf("CountCalls failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count to stay at 2 after denials, got %d", count)
	}
}

func TestLimiter_FixedWindowBoundary(t *testing.T) {
	last := time.Date(2026, 6, 1, 12, 0, 59, 999_000_000, time.UTC)
	limiter, backend, clock := newTestLimiter(t, last, comparisonConfig(1, 100, 1000))
	ctx := context.Background()

	d, _ := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if !d.Allowed {
		t.Fatal("Expected first call to be allowed")
	}
	if *d.ResetInSeconds != 1 {
		t.Errorf("Expected reset in 1s just before the boundary, got %d", *d.ResetInSeconds)
	}
	d, _ = limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if d.Allowed {
		t.Fatal("Expected second call in the same minute to be denied")
	}

	boundary := time.Date(2026, 6, 1, 12, 1, 0, 0, time.UTC)
	clock.Set(boundary)
	d, _ = limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if !d.Allowed {
		t.Fatal("Expected call exactly at the boundary to open a new window")
	}
	if *d.ResetInSeconds != 60 {
		t.Errorf("Expected reset in 60s at the boundary, got %d", *d.ResetInSeconds)
	}

	for _, at := range []time.Time{last, boundary} {
		count, _ := backend.CountCalls(ctx, storage.NewBucketKey("user-1", "run-comparison", storage.Sandbox, at))
		if count != 1 {
			t.Errorf("Expected one call in bucket %s, got %d", at.Format(time.TimeOnly), count)
		}
	}
}

func TestLimiter_Unconfigured(t *testing.T) {
	limiter, backend, _ := newTestLimiter(t, time.Now())
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		d, err := limiter.CheckAndConsume(ctx, "user-1", "insights", storage.Production)
		if err != nil {
			t.Fatalf("CheckAndConsume failed: %v", err)
		}
		if !d.Allowed || d.Reason != ReasonUnconfigured {
			t.Fatalf("Expected unconfigured admit, got %+v", d)
		}
		if d.Remaining != nil || d.ResetInSeconds != nil {
			t.Fatalf("Expected no remaining/reset for unconfigured endpoint, got %+v", d)
		}
	}

	count, _ := backend.CountCalls(ctx, storage.NewBucketKey("user-1", "insights", storage.Production, time.Now()))
	if count != 0 {
		t.Errorf("Expected unconfigured calls not to be counted, got %d", count)
	}
}

func TestLimiter_HourLimit(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 10, 0, 0, time.UTC)
	limiter, _, clock := newTestLimiter(t, start, comparisonConfig(10, 3, 1000))
	ctx := context.Background()

	// One call per minute for three minutes exhausts the hour.
	for i := 0; i < 3; i++ {
		clock.Set(start.Add(time.Duration(i) * time.Minute))
		d, _ := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
		if !d.Allowed {
			t.Fatalf("Expected call %d to be allowed", i)
		}
	}

	now := start.Add(5*time.Minute + 30*time.Second)
	clock.Set(now)
	d, _ := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if d.Allowed || d.Reason != ReasonHourExceeded || d.Limit != LimitHour {
		t.Fatalf("Expected hour denial, got %+v", d)
	}
	// 12:15:30 -> 13:00:00
	if *d.ResetInSeconds != 44*60+30 {
		t.Errorf("Expected reset at the next hour boundary, got %d", *d.ResetInSeconds)
	}

	// Sixty minutes after the first call it leaves the trailing window.
	clock.Set(start.Add(60 * time.Minute))
	d, _ = limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if !d.Allowed {
		t.Errorf("Expected call to be allowed once the oldest bucket left the hour window, got %+v", d)
	}
}

func TestLimiter_DayLimit(t *testing.T) {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	limiter, _, clock := newTestLimiter(t, start, comparisonConfig(10, 100, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		clock.Set(start.Add(time.Duration(i) * 2 * time.Hour))
		if d, _ := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox); !d.Allowed {
			t.Fatalf("Expected call %d to be allowed", i)
		}
	}

	clock.Set(time.Date(2026, 6, 1, 23, 0, 0, 0, time.UTC))
	d, _ := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox)
	if d.Allowed || d.Reason != ReasonDayExceeded {
		t.Fatalf("Expected day denial, got %+v", d)
	}
	if *d.ResetInSeconds != 3600 {
		t.Errorf("Expected reset at midnight UTC, got %d", *d.ResetInSeconds)
	}
}

func TestLimiter_IsolatesKeys(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	prod := comparisonConfig(1, 10, 10)
	prod.Environment = storage.Production
	limiter, _, _ := newTestLimiter(t, at, comparisonConfig(1, 10, 10), prod)
	ctx := context.Background()

	calls := []struct {
		user string
		env  storage.Environment
	}{
		{"user-1", storage.Sandbox},
		{"user-2", storage.Sandbox},
		{"user-1", storage.Production},
	}
	for _, c := range calls {
		d, err := limiter.CheckAndConsume(ctx, c.user, "run-comparison", c.env)
		if err != nil {
			t.Fatalf("CheckAndConsume failed: %v", err)
		}
		if !d.Allowed {
			t.Errorf("Expected %s/%s to have its own bucket", c.user, c.env)
		}
	}
}

// countingLedger counts calls so tests can assert the ledger was never reached.
type countingLedger struct {
	storage.UsageLedger
	calls atomic.Int64
}

func (c *countingLedger) CountCalls(ctx context.Context, key storage.BucketKey) (int64, error) {
	c.calls.Add(1)
	return c.UsageLedger.CountCalls(ctx, key)
}

func TestLimiter_InvalidInput(t *testing.T) {
	backend := storage.NewMemoryBackend()
	defer backend.Close()
	ledger := &countingLedger{UsageLedger: backend}
	limiter := NewLimiter(ledger, backend)

	tests := []struct {
		name     string
		userID   string
		endpoint string
		env      storage.Environment
	}{
		{"empty user", "", "chat", storage.Sandbox},
		{"empty endpoint", "user-1", "", storage.Sandbox},
		{"unknown environment", "user-1", "chat", "staging"},
		{"whitespace in user", "user 1", "chat", storage.Sandbox},
		{"control character", "user\x00", "chat", storage.Production},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := limiter.CheckAndConsume(context.Background(), tt.userID, tt.endpoint, tt.env)
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if n := ledger.calls.Load(); n != 0 {
		t.Errorf("Expected invalid input never to reach the ledger, got %d calls", n)
	}
}

// failingConfigs fails every lookup.
type failingConfigs struct{ storage.LimitConfigStore }

func (failingConfigs) GetLimitConfig(ctx context.Context, env storage.Environment, endpoint string) (*storage.LimitConfig, error) {
	return nil, &storage.LedgerError{Store: "config", Op: "get_config", Err: errors.New("connection refused")}
}

func TestLimiter_StoreFailure(t *testing.T) {
	backend := storage.NewMemoryBackend()
	defer backend.Close()
	limiter := NewLimiter(backend, failingConfigs{})

	_, err := limiter.CheckAndConsume(context.Background(), "user-1", "chat", storage.Sandbox)
	if !errors.Is(err, storage.ErrLedgerUnavailable) {
		t.Errorf("Expected ErrLedgerUnavailable, got %v", err)
	}
}

func testConcurrentAdmission(t *testing.T, backend storage.Backend) {
	t.Helper()
	ctx := context.Background()

	cfg := comparisonConfig(1000, 10000, 100000)
	if err := backend.PutLimitConfig(ctx, cfg); err != nil {
		t.Fatalf("PutLimitConfig failed: %v", err)
	}
	tight := comparisonConfig(7, 10000, 100000)
	tight.Endpoint = "prompt-generation"
	if err := backend.PutLimitConfig(ctx, tight); err != nil {
		t.Fatalf("PutLimitConfig failed: %v", err)
	}

	// Pin the clock mid-minute so the whole test runs in one window.
	at := time.Now().UTC().Truncate(time.Minute).Add(30 * time.Second)
	limiter := NewLimiter(backend, backend, WithClock(func() time.Time { return at }))

	const workers = 64
	var admittedLoose, admittedTight atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox); err == nil && d.Allowed {
				admittedLoose.Add(1)
			}
			if d, err := limiter.CheckAndConsume(ctx, "user-1", "prompt-generation", storage.Sandbox); err == nil && d.Allowed {
				admittedTight.Add(1)
			}
		}()
	}
	wg.Wait()

	count, err := backend.CountCalls(ctx, storage.NewBucketKey("user-1", "run-comparison", storage.Sandbox, at))
	if err != nil {
		t.Fatalf("CountCalls failed: %v", err)
	}
	if count != workers || admittedLoose.Load() != workers {
		t.Errorf("Expected %d counted and admitted calls, got count=%d admitted=%d", workers, count, admittedLoose.Load())
	}
	if got := admittedTight.Load(); got != 7 {
		t.Errorf("Expected exactly 7 admitted calls under a limit of 7, got %d", got)
	}
}

func TestLimiter_ConcurrentMemory(t *testing.T) {
	backend := storage.NewMemoryBackend()
	defer backend.Close()
	testConcurrentAdmission(t, backend)
}

func TestLimiter_ConcurrentSQLite(t *testing.T) {
	backend, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer backend.Close()
	testConcurrentAdmission(t, backend)
}

func TestLimiter_Usage(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter, _, clock := newTestLimiter(t, start, comparisonConfig(10, 100, 1000))
	ctx := context.Background()

	offsets := []time.Duration{-3 * time.Hour, -30 * time.Minute, 0, 10 * time.Second}
	for _, off := range offsets {
		clock.Set(start.Add(off))
		if _, err := limiter.CheckAndConsume(ctx, "user-1", "run-comparison", storage.Sandbox); err != nil {
			t.Fatalf("CheckAndConsume failed: %v", err)
		}
	}

	clock.Set(start.Add(20 * time.Second))
	snap, err := limiter.Usage(ctx, "user-1", "run-comparison", storage.Sandbox)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if snap.Minute != 2 || snap.Hour != 3 || snap.Day != 4 {
		t.Errorf("Expected usage 2/3/4, got %d/%d/%d", snap.Minute, snap.Hour, snap.Day)
	}
	if snap.Config == nil || snap.Config.MaxCallsPerMinute != 10 {
		t.Errorf("Expected limits in snapshot, got %+v", snap.Config)
	}
}

func TestWindowHelpers(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		fn   func(time.Time) int64
		want int64
	}{
		{"minute mid", time.Date(2026, 1, 1, 10, 0, 20, 0, time.UTC), ResetMinute, 40},
		{"minute fractional rounds up", time.Date(2026, 1, 1, 10, 0, 20, 500_000_000, time.UTC), ResetMinute, 40},
		{"minute boundary", time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC), ResetMinute, 60},
		{"hour", time.Date(2026, 1, 1, 10, 59, 0, 0, time.UTC), ResetHour, 60},
		{"day", time.Date(2026, 1, 1, 23, 59, 30, 0, time.UTC), ResetDay, 30},
		{"day non-UTC input", time.Date(2026, 1, 1, 20, 0, 0, 0, time.FixedZone("EST", -5*3600)), ResetDay, 23 * 3600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.at); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	from, to := TrailingRange(time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC), MinutesPerHour)
	if !to.Equal(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)) || !from.Equal(time.Date(2026, 1, 1, 9, 1, 0, 0, time.UTC)) {
		t.Errorf("Unexpected hour range %s..%s", from, to)
	}
}
