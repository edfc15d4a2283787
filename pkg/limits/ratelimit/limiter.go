package ratelimit

import (
	"context"
	"fmt"
	"time"

	"modelbench/gatekeeper/pkg/limits/storage"
)

// Limiter enforces fixed-window call limits over one-minute usage buckets.
//
// Per-minute, per-hour and per-day limits are checked in that order. Hour and day
// usage are derived by summing the minute buckets of the trailing window, so only one
// counter is written per admitted call.
//
// Limiter holds no per-user state. All coordination happens in the UsageLedger, which
// makes it safe to run many Limiters against the same store.
type Limiter struct {
	usage   storage.UsageLedger
	configs storage.LimitConfigStore
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter backed by the given stores.
func NewLimiter(usage storage.UsageLedger, configs storage.LimitConfigStore, opts ...Option) *Limiter {
	l := &Limiter{
		usage:   usage,
		configs: configs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ValidateCall checks the identifiers of a call before any store is touched.
func ValidateCall(userID, endpoint string, env storage.Environment) error {
	if err := storage.ValidateIdentifier("user_id", userID); err != nil {
		return err
	}
	if err := storage.ValidateIdentifier("endpoint", endpoint); err != nil {
		return err
	}
	if !env.Valid() {
		return fmt.Errorf("%w: environment must be %q or %q, got %q",
			storage.ErrInvalidInput, storage.Sandbox, storage.Production, env)
	}
	return nil
}

// CheckAndConsume decides whether a call may proceed and, if so, counts it.
//
// A denied call never writes to the ledger. An admitted call increments exactly one
// bucket with a single conditional upsert, so concurrent callers cannot push a bucket
// past its limit.
//
// Errors wrap storage.ErrInvalidInput for bad identifiers or storage.ErrLedgerUnavailable
// (when the stores are guarded) for infrastructure faults. Denials are not errors.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID, endpoint string, env storage.Environment) (*Decision, error) {
	if err := ValidateCall(userID, endpoint, env); err != nil {
		return nil, err
	}

	now := l.now()

	cfg, err := l.configs.GetLimitConfig(ctx, env, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load limit config: %w", err)
	}
	if cfg == nil {
		return &Decision{Allowed: true, Reason: ReasonUnconfigured}, nil
	}

	key := storage.NewBucketKey(userID, endpoint, env, now)

	minute, err := l.usage.CountCalls(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read minute usage: %w", err)
	}
	if minute >= cfg.MaxCallsPerMinute {
		return deny(LimitMinute, cfg.MaxCallsPerMinute, now), nil
	}

	// Buckets before the current minute no longer change, so the hour and day headroom
	// can be turned into a cap on the current bucket.
	prevHour, err := l.pastUsage(ctx, key, now, MinutesPerHour)
	if err != nil {
		return nil, err
	}
	if prevHour+minute >= cfg.MaxCallsPerHour {
		return deny(LimitHour, cfg.MaxCallsPerHour, now), nil
	}

	prevDay, err := l.pastUsage(ctx, key, now, MinutesPerDay)
	if err != nil {
		return nil, err
	}
	if prevDay+minute >= cfg.MaxCallsPerDay {
		return deny(LimitDay, cfg.MaxCallsPerDay, now), nil
	}

	capacity, binding := cfg.MaxCallsPerMinute, LimitMinute
	if c := cfg.MaxCallsPerHour - prevHour; c < capacity {
		capacity, binding = c, LimitHour
	}
	if c := cfg.MaxCallsPerDay - prevDay; c < capacity {
		capacity, binding = c, LimitDay
	}

	count, ok, err := l.usage.IncrementIfBelow(ctx, key, capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	if !ok {
		// Concurrent callers filled the bucket between the read and the upsert.
		switch binding {
		case LimitHour:
			return deny(LimitHour, cfg.MaxCallsPerHour, now), nil
		case LimitDay:
			return deny(LimitDay, cfg.MaxCallsPerDay, now), nil
		default:
			return deny(LimitMinute, cfg.MaxCallsPerMinute, now), nil
		}
	}

	return &Decision{
		Allowed:        true,
		Remaining:      int64Ptr(cfg.MaxCallsPerMinute - count),
		ResetInSeconds: int64Ptr(ResetMinute(now)),
		Max:            cfg.MaxCallsPerMinute,
	}, nil
}

// pastUsage sums the trailing window excluding the current minute.
func (l *Limiter) pastUsage(ctx context.Context, key storage.BucketKey, now time.Time, minutes int) (int64, error) {
	from, _ := TrailingRange(now, minutes)
	to := key.WindowStart.Add(-time.Minute)
	total, err := l.usage.SumCalls(ctx, key.SeriesKey, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to sum %d-minute usage: %w", minutes, err)
	}
	return total, nil
}

// Usage returns the current minute, hour and day usage of a series together with its
// configured limits. It never writes.
func (l *Limiter) Usage(ctx context.Context, userID, endpoint string, env storage.Environment) (*UsageSnapshot, error) {
	if err := ValidateCall(userID, endpoint, env); err != nil {
		return nil, err
	}

	now := l.now()
	key := storage.NewBucketKey(userID, endpoint, env, now)
	snap := &UsageSnapshot{UserID: userID, Endpoint: endpoint, Environment: env}

	cfg, err := l.configs.GetLimitConfig(ctx, env, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load limit config: %w", err)
	}
	snap.Config = cfg

	if snap.Minute, err = l.usage.CountCalls(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to read minute usage: %w", err)
	}

	from, to := TrailingRange(now, MinutesPerHour)
	if snap.Hour, err = l.usage.SumCalls(ctx, key.SeriesKey, from, to); err != nil {
		return nil, fmt.Errorf("failed to sum hour usage: %w", err)
	}

	from, to = TrailingRange(now, MinutesPerDay)
	if snap.Day, err = l.usage.SumCalls(ctx, key.SeriesKey, from, to); err != nil {
		return nil, fmt.Errorf("failed to sum day usage: %w", err)
	}

	return snap, nil
}

func deny(limit Limit, ceiling int64, now time.Time) *Decision {
	d := &Decision{Allowed: false, Limit: limit, Max: ceiling}
	switch limit {
	case LimitHour:
		d.Reason = ReasonHourExceeded
		d.ResetInSeconds = int64Ptr(ResetHour(now))
	case LimitDay:
		d.Reason = ReasonDayExceeded
		d.ResetInSeconds = int64Ptr(ResetDay(now))
	default:
		d.Reason = ReasonMinuteExceeded
		d.ResetInSeconds = int64Ptr(ResetMinute(now))
	}
	d.Remaining = int64Ptr(0)
	return d
}
