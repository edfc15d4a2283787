package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"modelbench/gatekeeper/pkg/limits/money"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Timeout bounds each store call. Default: 250ms
	Timeout time.Duration

	// MaxRequests is the number of trial requests allowed while half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts reset. Default: 60s
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before probing. Default: 10s
	OpenTimeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the breaker. Default: 5
	FailureThreshold uint32

	// Logger receives breaker state changes.
	Logger *slog.Logger
}

// Guard bounds calls to one store with a timeout and a circuit breaker.
// A nil *Guard passes calls through untouched.
type Guard struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// LedgerError reports a failed or unreachable store. It matches ErrLedgerUnavailable.
type LedgerError struct {
	Store string
	Op    string
	Err   error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s ledger %s: %v", e.Store, e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLedgerUnavailable) hold for every LedgerError.
func (e *LedgerError) Is(target error) bool {
	return target == ErrLedgerUnavailable
}

// NewGuard creates a guard for the named store.
func NewGuard(name string, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 250 * time.Millisecond
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.FailureThreshold

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				"store", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Rejected input and abandoned callers say nothing about store health.
			return err == nil || errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled)
		},
	})

	return &Guard{name: name, timeout: cfg.Timeout, cb: cb}
}

// Name returns the store name.
func (g *Guard) Name() string { return g.name }

// State returns the breaker state: "closed", "half-open" or "open".
func (g *Guard) State() string {
	if g == nil {
		return gobreaker.StateClosed.String()
	}
	return g.cb.State().String()
}

// call runs fn under the guard's timeout and breaker.
func call[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}

	var zero T
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.cb.Execute(func() (any, error) {
		return fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return zero, err
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return zero, err
		}
		return zero, &LedgerError{Store: g.name, Op: op, Err: err}
	}
	return out.(T), nil
}

type incrementResult struct {
	count int64
	ok    bool
}

type guardedUsage struct {
	inner UsageLedger
	g     *Guard
}

// GuardUsageLedger wraps a UsageLedger with g.
func GuardUsageLedger(inner UsageLedger, g *Guard) UsageLedger {
	return &guardedUsage{inner: inner, g: g}
}

func (u *guardedUsage) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	return call(ctx, u.g, "count", func(ctx context.Context) (int64, error) {
		return u.inner.CountCalls(ctx, key)
	})
}

func (u *guardedUsage) SumCalls(ctx context.Context, series SeriesKey, from, to time.Time) (int64, error) {
	return call(ctx, u.g, "sum", func(ctx context.Context) (int64, error) {
		return u.inner.SumCalls(ctx, series, from, to)
	})
}

func (u *guardedUsage) IncrementIfBelow(ctx context.Context, key BucketKey, limit int64) (int64, bool, error) {
	res, err := call(ctx, u.g, "increment", func(ctx context.Context) (incrementResult, error) {
		count, ok, err := u.inner.IncrementIfBelow(ctx, key, limit)
		return incrementResult{count: count, ok: ok}, err
	})
	return res.count, res.ok, err
}

func (u *guardedUsage) PruneBuckets(ctx context.Context, before time.Time) (int64, error) {
	// Pruning is a batch job; it keeps the caller's deadline and bypasses the breaker.
	return u.inner.PruneBuckets(ctx, before)
}

type guardedBudgets struct {
	inner BudgetLedger
	g     *Guard
}

// GuardBudgetLedger wraps a BudgetLedger with g.
func GuardBudgetLedger(inner BudgetLedger, g *Guard) BudgetLedger {
	return &guardedBudgets{inner: inner, g: g}
}

func (b *guardedBudgets) GetBudget(ctx context.Context, key BudgetKey) (*BudgetRecord, error) {
	return call(ctx, b.g, "get", func(ctx context.Context) (*BudgetRecord, error) {
		return b.inner.GetBudget(ctx, key)
	})
}

func (b *guardedBudgets) LatestBudget(ctx context.Context, userID string, env Environment, before time.Time) (*BudgetRecord, error) {
	return call(ctx, b.g, "latest", func(ctx context.Context) (*BudgetRecord, error) {
		return b.inner.LatestBudget(ctx, userID, env, before)
	})
}

func (b *guardedBudgets) AddSpend(ctx context.Context, key BudgetKey, amount money.Amount, day time.Time, seed BudgetSettings) (*BudgetRecord, error) {
	return call(ctx, b.g, "add_spend", func(ctx context.Context) (*BudgetRecord, error) {
		return b.inner.AddSpend(ctx, key, amount, day, seed)
	})
}

func (b *guardedBudgets) UpdateBudgetSettings(ctx context.Context, key BudgetKey, settings BudgetSettings) (*BudgetRecord, error) {
	return call(ctx, b.g, "update_settings", func(ctx context.Context) (*BudgetRecord, error) {
		return b.inner.UpdateBudgetSettings(ctx, key, settings)
	})
}

func (b *guardedBudgets) MarkAlerted(ctx context.Context, key BudgetKey) (bool, error) {
	return call(ctx, b.g, "mark_alerted", func(ctx context.Context) (bool, error) {
		return b.inner.MarkAlerted(ctx, key)
	})
}

func (b *guardedBudgets) RearmAlert(ctx context.Context, key BudgetKey) error {
	_, err := call(ctx, b.g, "rearm_alert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.inner.RearmAlert(ctx, key)
	})
	return err
}

type guardedConfigs struct {
	inner LimitConfigStore
	g     *Guard
}

// GuardConfigStore wraps a LimitConfigStore with g.
func GuardConfigStore(inner LimitConfigStore, g *Guard) LimitConfigStore {
	return &guardedConfigs{inner: inner, g: g}
}

func (c *guardedConfigs) GetLimitConfig(ctx context.Context, env Environment, endpoint string) (*LimitConfig, error) {
	return call(ctx, c.g, "get_config", func(ctx context.Context) (*LimitConfig, error) {
		return c.inner.GetLimitConfig(ctx, env, endpoint)
	})
}

func (c *guardedConfigs) ListLimitConfigs(ctx context.Context) ([]LimitConfig, error) {
	return call(ctx, c.g, "list_configs", func(ctx context.Context) ([]LimitConfig, error) {
		return c.inner.ListLimitConfigs(ctx)
	})
}

func (c *guardedConfigs) PutLimitConfig(ctx context.Context, cfg LimitConfig) error {
	_, err := call(ctx, c.g, "put_config", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.inner.PutLimitConfig(ctx, cfg)
	})
	return err
}

func (c *guardedConfigs) DeleteLimitConfig(ctx context.Context, env Environment, endpoint string) (bool, error) {
	return call(ctx, c.g, "delete_config", func(ctx context.Context) (bool, error) {
		return c.inner.DeleteLimitConfig(ctx, env, endpoint)
	})
}
