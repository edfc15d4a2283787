package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

func TestMemoryBackend_Cleanup(t *testing.T) {
	backend := NewMemoryBackendWithConfig(MemoryBackendConfig{
		CleanupInterval: 20 * time.Millisecond,
		Retention:       time.Hour,
	})
	defer backend.Close()

	ctx := context.Background()
	old := NewBucketKey("user-1", "chat", Sandbox, time.Now().Add(-2*time.Hour))
	if _, _, err := backend.IncrementIfBelow(ctx, old, 10); err != nil {
		t.Fatalf("IncrementIfBelow failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	count, err := backend.CountCalls(ctx, old)
	if err != nil {
		t.Fatalf("CountCalls failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected expired bucket to be cleaned up, got %d", count)
	}
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx := context.Background()
	key := BudgetKey{UserID: "user-1", Environment: Sandbox, PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	email := "a@example.com"
	rec, err := backend.UpdateBudgetSettings(ctx, key, BudgetSettings{NotificationEmail: &email})
	if err != nil {
		t.Fatalf("UpdateBudgetSettings failed: %v", err)
	}

	*rec.NotificationEmail = "mutated@example.com"
	rec.AlertSent = true

	stored, err := backend.GetBudget(ctx, key)
	if err != nil {
		t.Fatalf("GetBudget failed: %v", err)
	}
	if *stored.NotificationEmail != "a@example.com" || stored.AlertSent {
		t.Errorf("Expected stored record to be unaffected by caller mutation, got %+v", stored)
	}
}

// failingUsage fails every call with err.
type failingUsage struct {
	UsageLedger
	err   error
	calls int
}

func (f *failingUsage) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	f.calls++
	return 0, f.err
}

// slowUsage blocks until the context ends.
type slowUsage struct{ UsageLedger }

func (slowUsage) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestGuard_WrapsFailures(t *testing.T) {
	inner := &failingUsage{err: errors.New("disk I/O error")}
	usage := GuardUsageLedger(inner, NewGuard("usage", GuardConfig{}))

	_, err := usage.CountCalls(context.Background(), NewBucketKey("u", "e", Sandbox, time.Now()))
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("Expected ErrLedgerUnavailable, got %v", err)
	}

	var ledgerErr *LedgerError
	if !errors.As(err, &ledgerErr) {
		t.Fatalf("Expected *LedgerError, got %T", err)
	}
	if ledgerErr.Store != "usage" || ledgerErr.Op != "count" {
		t.Errorf("Unexpected error fields: %+v", ledgerErr)
	}
}

func TestGuard_Timeout(t *testing.T) {
	usage := GuardUsageLedger(slowUsage{}, NewGuard("usage", GuardConfig{Timeout: 20 * time.Millisecond}))

	start := time.Now()
	_, err := usage.CountCalls(context.Background(), NewBucketKey("u", "e", Sandbox, time.Now()))
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("Expected ErrLedgerUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Guard did not bound the call: took %v", elapsed)
	}
}

func TestGuard_OpensBreaker(t *testing.T) {
	inner := &failingUsage{err: errors.New("connection refused")}
	guard := NewGuard("usage", GuardConfig{FailureThreshold: 3, OpenTimeout: time.Minute})
	usage := GuardUsageLedger(inner, guard)
	key := NewBucketKey("u", "e", Sandbox, time.Now())

	for i := 0; i < 5; i++ {
		_, _ = usage.CountCalls(context.Background(), key)
	}

	if inner.calls != 3 {
		t.Errorf("Expected breaker to stop calls after 3 failures, got %d calls", inner.calls)
	}
	if guard.State() != "open" {
		t.Errorf("Expected open breaker, got %s", guard.State())
	}

	_, err := usage.CountCalls(context.Background(), key)
	if !errors.Is(err, gobreaker.ErrOpenState) || !errors.Is(err, ErrLedgerUnavailable) {
		t.Errorf("Expected open-state ledger error, got %v", err)
	}
}

func TestGuard_InvalidInputPassesThrough(t *testing.T) {
	inner := &failingUsage{err: fmt.Errorf("%w: bad key", ErrInvalidInput)}
	guard := NewGuard("usage", GuardConfig{FailureThreshold: 1})
	usage := GuardUsageLedger(inner, guard)

	for i := 0; i < 3; i++ {
		_, err := usage.CountCalls(context.Background(), NewBucketKey("u", "e", Sandbox, time.Now()))
		if !errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrLedgerUnavailable) {
			t.Fatalf("Expected bare ErrInvalidInput, got %v", err)
		}
	}
	if guard.State() != "closed" {
		t.Errorf("Expected invalid input not to trip the breaker, got %s", guard.State())
	}
}

func TestGuard_NilPassesThrough(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	budgets := GuardBudgetLedger(backend, nil)
	rec, err := budgets.GetBudget(context.Background(), BudgetKey{UserID: "u", Environment: Sandbox})
	if err != nil || rec != nil {
		t.Errorf("Expected nil, nil, got %v, %v", rec, err)
	}
}

func TestPostgresBackend_Contract(t *testing.T) {
	dsn := os.Getenv("GATEKEEPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GATEKEEPER_TEST_POSTGRES_DSN not set, skipping integration test")
	}

	runBackendContract(t, func(t *testing.T) Backend {
		backend, err := NewPostgresBackend(PostgresBackendConfig{DSN: dsn})
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		if err := backend.db.Exec("TRUNCATE usage_buckets, budget_records, limit_configs").Error; err != nil {
			t.Fatalf("Failed to truncate tables: %v", err)
		}
		t.Cleanup(func() { backend.Close() })
		return backend
	})
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("GATEKEEPER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GATEKEEPER_TEST_REDIS_ADDR not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisOptions{Addr: addr, DB: 1})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestRedisUsageLedger(t *testing.T) {
	client := newTestRedisClient(t)
	ledger := NewRedisUsageLedger(client, RedisOptions{KeyPrefix: "test:"})
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)
	key := NewBucketKey("user-1", "chat", Sandbox, now)

	for i := int64(1); i <= 2; i++ {
		count, ok, err := ledger.IncrementIfBelow(ctx, key, 2)
		if err != nil || !ok || count != i {
			t.Fatalf("IncrementIfBelow = %d, %v, %v", count, ok, err)
		}
	}
	if _, ok, err := ledger.IncrementIfBelow(ctx, key, 2); err != nil || ok {
		t.Fatalf("Expected refusal at the limit, got ok=%v err=%v", ok, err)
	}

	prev := NewBucketKey("user-1", "chat", Sandbox, now.Add(-time.Minute))
	if _, _, err := ledger.IncrementIfBelow(ctx, prev, 10); err != nil {
		t.Fatalf("IncrementIfBelow failed: %v", err)
	}

	total, err := ledger.SumCalls(ctx, key.SeriesKey, now.Add(-59*time.Minute), now)
	if err != nil {
		t.Fatalf("SumCalls failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 calls in the hour window, got %d", total)
	}

	ttl := client.TTL(ctx, ledger.bucketKey(key.SeriesKey, key.WindowStart)).Val()
	if ttl <= 0 || ttl > DefaultBucketTTL {
		t.Errorf("Expected bucket TTL within (0, %v], got %v", DefaultBucketTTL, ttl)
	}
}

func TestRedisUsageLedger_BucketKeySlot(t *testing.T) {
	ledger := NewRedisUsageLedger(nil, RedisOptions{})
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	series := SeriesKey{UserID: "user-1", Endpoint: "chat", Environment: Sandbox}

	hashTag := func(key string) string {
		start := strings.Index(key, "{")
		end := strings.Index(key, "}")
		if start < 0 || end <= start+1 {
			t.Fatalf("key %q has no hash tag", key)
		}
		return key[start+1 : end]
	}

	first := ledger.bucketKey(series, now)
	if first != "gatekeeper:usage:{sandbox:chat:user-1}:29552430" {
		t.Errorf("unexpected bucket key %q", first)
	}

	// A day window must stay in one slot.
	dayAgo := ledger.bucketKey(series, now.Add(-1439*time.Minute))
	if hashTag(first) != hashTag(dayAgo) {
		t.Errorf("keys of one series use different hash tags: %q, %q", first, dayAgo)
	}

	other := ledger.bucketKey(SeriesKey{UserID: "user-2", Endpoint: "chat", Environment: Sandbox}, now)
	if hashTag(first) == hashTag(other) {
		t.Errorf("different users share hash tag %q", hashTag(other))
	}
}

func TestCachedConfigStore(t *testing.T) {
	client := newTestRedisClient(t)
	backend := NewMemoryBackend()
	defer backend.Close()

	store := NewCachedConfigStore(backend, client, "test:", time.Minute, nil)
	ctx := context.Background()

	cfg, err := store.GetLimitConfig(ctx, Sandbox, "chat")
	if err != nil || cfg != nil {
		t.Fatalf("Expected cached miss, got %v, %v", cfg, err)
	}

	// A write through the wrapper must invalidate the cached miss.
	want := LimitConfig{Environment: Sandbox, Endpoint: "chat", MaxCallsPerMinute: 1, MaxCallsPerHour: 2, MaxCallsPerDay: 3}
	if err := store.PutLimitConfig(ctx, want); err != nil {
		t.Fatalf("PutLimitConfig failed: %v", err)
	}
	cfg, err = store.GetLimitConfig(ctx, Sandbox, "chat")
	if err != nil || cfg == nil || cfg.MaxCallsPerDay != 3 {
		t.Fatalf("Expected fresh config, got %v, %v", cfg, err)
	}

	// A write that bypasses the wrapper is hidden until the entry expires.
	want.MaxCallsPerDay = 30
	if err := backend.PutLimitConfig(ctx, want); err != nil {
		t.Fatalf("PutLimitConfig failed: %v", err)
	}
	cfg, _ = store.GetLimitConfig(ctx, Sandbox, "chat")
	if cfg.MaxCallsPerDay != 3 {
		t.Errorf("Expected cached value 3, got %d", cfg.MaxCallsPerDay)
	}

	if _, err := store.DeleteLimitConfig(ctx, Sandbox, "chat"); err != nil {
		t.Fatalf("DeleteLimitConfig failed: %v", err)
	}
	cfg, err = store.GetLimitConfig(ctx, Sandbox, "chat")
	if err != nil || cfg != nil {
		t.Errorf("Expected config to be gone, got %v, %v", cfg, err)
	}
}

func TestCachedConfigStore_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	backend := NewMemoryBackend()
	defer backend.Close()
	want := LimitConfig{Environment: Production, Endpoint: "chat", MaxCallsPerMinute: 1, MaxCallsPerHour: 2, MaxCallsPerDay: 3}
	if err := backend.PutLimitConfig(context.Background(), want); err != nil {
		t.Fatalf("PutLimitConfig failed: %v", err)
	}

	store := NewCachedConfigStore(backend, client, "", 0, nil)
	cfg, err := store.GetLimitConfig(context.Background(), Production, "chat")
	if err != nil {
		t.Fatalf("Expected fallback to the wrapped store, got %v", err)
	}
	if cfg == nil || cfg.MaxCallsPerMinute != 1 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}
