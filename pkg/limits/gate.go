package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"modelbench/gatekeeper/pkg/limits/budget"
	"modelbench/gatekeeper/pkg/limits/enforcement"
	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/notify"
	"modelbench/gatekeeper/pkg/limits/ratelimit"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/telemetry/tracing"
)

// Gate is the admission entry point every metered endpoint calls before doing work.
//
// It runs the rate limiter first and, for cost-bearing endpoints the limiter admitted,
// the budget pre-check second. Denials are returned as AdmissionDecision values; only
// invalid input and unexpected failures are errors.
//
// # Example
//
//	gate := limits.NewGate(limits.Config{
//	    Usage:   backend,
//	    Configs: backend,
//	    Budgets: backend,
//	    Endpoints: map[string]limits.EndpointConfig{
//	        "run-comparison": {CostBearing: true, EstimatedCost: money.MustParse("0.05")},
//	    },
//	})
//
//	decision, err := gate.Admit(ctx, "user-42", "run-comparison", storage.Production)
//	if err != nil {
//	    // invalid input
//	}
//	if !decision.Allowed {
//	    // 429 with decision.ResetInSeconds
//	}
//
//	// After the work completed
//	status, err := gate.RecordSpend(ctx, "user-42", storage.Production, cost)
type Gate struct {
	limiter  *ratelimit.Limiter
	budgets  *budget.Enforcer
	enforcer *enforcement.Enforcer
	configs  storage.LimitConfigStore
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	recorder DecisionRecorder
	now      func() time.Time
	dryRun   bool
	fallback *storage.MemoryBackend

	mu        sync.RWMutex
	endpoints map[string]EndpointConfig
}

// Config contains configuration for the admission gate.
type Config struct {
	// Usage, Configs and Budgets are the ledgers. Any left nil shares one in-memory
	// backend owned by the Gate and released by Close. Production callers pass all three.
	Usage   storage.UsageLedger
	Configs storage.LimitConfigStore
	Budgets storage.BudgetLedger

	// Notifier receives budget threshold alerts. Nil discards them.
	Notifier notify.Notifier

	// Endpoints maps endpoint names to their cost profile. Unlisted endpoints are
	// not cost-bearing.
	Endpoints map[string]EndpointConfig

	// Enforcement configures the over-budget and outage policy.
	Enforcement enforcement.Config

	// BudgetDefaults seed the first budget record of a user.
	BudgetDefaults storage.BudgetSettings

	// NotifyTimeout bounds alert delivery.
	NotifyTimeout time.Duration

	// DryRun admits every call that would be denied and reports the denial as a warning.
	DryRun bool

	// Recorder receives every decision, e.g. for the audit trail. Nil disables it.
	Recorder DecisionRecorder

	// Metrics defaults to collectors on a private registry.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// NewGate creates a new admission gate with the given configuration.
func NewGate(config Config) *Gate {
	var fallback *storage.MemoryBackend
	if config.Usage == nil || config.Configs == nil || config.Budgets == nil {
		mem := storage.NewMemoryBackend()
		fallback = mem
		if config.Usage == nil {
			config.Usage = mem
		}
		if config.Configs == nil {
			config.Configs = mem
		}
		if config.Budgets == nil {
			config.Budgets = mem
		}
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Notifier == nil {
		config.Notifier = notify.Nop{}
	}

	metrics := config.Metrics
	inner := config.Notifier
	counted := notify.NotifierFunc(func(ctx context.Context, e notify.Event) error {
		metrics.RecordBudgetAlert()
		return inner.Notify(ctx, e)
	})

	g := &Gate{
		limiter: ratelimit.NewLimiter(config.Usage, config.Configs, ratelimit.WithClock(config.Now)),
		budgets: budget.NewEnforcer(config.Budgets, counted, budget.Config{
			Defaults:      config.BudgetDefaults,
			NotifyTimeout: config.NotifyTimeout,
			Logger:        config.Logger,
			Now:           config.Now,
		}),
		enforcer: enforcement.NewEnforcer(config.Enforcement),
		configs:  config.Configs,
		metrics:  metrics,
		tracer:   otel.Tracer(tracing.InstrumentationName),
		logger:   config.Logger.With("component", "gate"),
		recorder: config.Recorder,
		now:      config.Now,
		dryRun:   config.DryRun,
		fallback: fallback,
	}
	g.SetEndpoints(config.Endpoints)

	return g
}

// Close releases the in-memory backend NewGate created for nil ledgers. Ledgers
// passed in Config are owned by the caller and left open.
func (g *Gate) Close() error {
	if g.fallback == nil {
		return nil
	}
	return g.fallback.Close()
}

// Admit decides whether userID may call endpoint in env now.
//
// The rate limiter runs first and an admitted call consumes one slot of the current
// minute bucket. The budget check of a cost-bearing endpoint runs afterwards, so a
// call denied for budget still costs the user that rate slot: it counts toward the
// per-minute, per-hour and per-day limits. Invalid input returns *InvalidInputError.
func (g *Gate) Admit(ctx context.Context, userID, endpoint string, env storage.Environment) (*AdmissionDecision, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "limits.Admit",
		trace.WithAttributes(tracing.AdmissionAttributes(userID, endpoint, string(env))...))
	defer span.End()

	decision, err := g.admit(ctx, userID, endpoint, env)
	g.metrics.RecordAdmissionDuration(time.Since(start).Seconds())
	if err != nil {
		tracing.SetStatus(span, err)
		return nil, err
	}
	tracing.SetDecision(span, string(decision.Kind), decision.Allowed, decision.Warning)
	return decision, nil
}

func (g *Gate) admit(ctx context.Context, userID, endpoint string, env storage.Environment) (*AdmissionDecision, error) {
	if err := ratelimit.ValidateCall(userID, endpoint, env); err != nil {
		return nil, &InvalidInputError{Err: err}
	}

	logger := g.logger.With("user_id", userID, "endpoint", endpoint, "environment", env)
	var warnings []string

	rateCtx, rateSpan := g.tracer.Start(ctx, "limits.CheckRate")
	rate, err := g.limiter.CheckAndConsume(rateCtx, userID, endpoint, env)
	rateSpan.End()
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, &InvalidInputError{Err: err}
		}
		result := g.enforcer.OnLedgerFailure(enforcement.FaultRateLedger, 0)
		g.metrics.RecordLedgerFailure("rate_limit", g.enforcer.Policy(enforcement.FaultRateLedger, 0))
		logger.Error("rate limit ledger unavailable", "error", err)
		rate = &ratelimit.Decision{Allowed: true}
		warnings = append(warnings, result.Warning)
	}

	if !rate.Allowed {
		decision := &AdmissionDecision{
			Allowed:        false,
			Reason:         rate.Reason,
			Remaining:      rate.Remaining,
			ResetInSeconds: rate.ResetInSeconds,
			Kind:           KindRateLimited,
			Limit:          rate.Max,
		}
		g.metrics.RecordRateLimitDenial(endpoint, string(rate.Limit))
		logger.Debug("call rate limited", "reason", rate.Reason, "limit", rate.Limit)
		return g.finish(ctx, userID, endpoint, env, decision), nil
	}

	decision := &AdmissionDecision{
		Allowed:        true,
		Reason:         rate.Reason,
		Remaining:      rate.Remaining,
		ResetInSeconds: rate.ResetInSeconds,
		Kind:           KindAdmitted,
		Limit:          rate.Max,
	}
	if rate.Reason == ratelimit.ReasonUnconfigured {
		decision.Kind = KindUnconfigured
	}

	if ep := g.Endpoint(endpoint); ep.CostBearing {
		if denied := g.checkBudget(ctx, logger, userID, env, ep, decision, &warnings); denied != nil {
			return g.finish(ctx, userID, endpoint, env, denied), nil
		}
	}

	decision.Warning = strings.Join(warnings, "; ")
	return g.finish(ctx, userID, endpoint, env, decision), nil
}

// checkBudget runs the budget pre-check and returns a denial, or nil after updating
// the admitted decision and warnings.
func (g *Gate) checkBudget(ctx context.Context, logger *slog.Logger, userID string, env storage.Environment, ep EndpointConfig, decision *AdmissionDecision, warnings *[]string) *AdmissionDecision {
	ctx, span := g.tracer.Start(ctx, "limits.CheckBudget")
	defer span.End()

	status, err := g.budgets.CheckBudget(ctx, userID, env)
	if err != nil {
		tracing.SetStatus(span, err)
		policy := g.enforcer.Policy(enforcement.FaultBudgetLedger, ep.EstimatedCost)
		g.metrics.RecordBudgetCheck(string(env), "error")
		g.metrics.RecordLedgerFailure("budget_check", policy)
		logger.Error("budget ledger unavailable",
			"error", err,
			"estimated_cost", ep.EstimatedCost,
			"policy", policy,
		)

		result := g.enforcer.OnLedgerFailure(enforcement.FaultBudgetLedger, ep.EstimatedCost)
		if !result.Allowed {
			return &AdmissionDecision{
				Allowed:        false,
				Reason:         result.Reason,
				ResetInSeconds: ceilSeconds(result.RetryAfter),
				Kind:           KindLedgerUnavailable,
				Warning:        strings.Join(*warnings, "; "),
			}
		}
		*warnings = append(*warnings, result.Warning)
		return nil
	}

	decision.Budget = status
	span.SetAttributes(tracing.BudgetRatio.Float64(status.RatioUsed))
	if status.WithinLimits {
		g.metrics.RecordBudgetCheck(string(env), "within")
		return nil
	}

	g.metrics.RecordBudgetCheck(string(env), "exceeded")
	now := g.now()
	retryAfter := status.PeriodEnd.Sub(now)
	if status.Reason == budget.ReasonDailyExhausted {
		retryAfter = budget.DayStart(now).Add(24 * time.Hour).Sub(now)
	}

	result := g.enforcer.OnOverBudget(status.Reason, retryAfter)
	if result.Allowed {
		*warnings = append(*warnings, result.Warning)
		return nil
	}

	logger.Debug("call over budget", "reason", status.Reason, "ratio_used", status.RatioUsed)
	return &AdmissionDecision{
		Allowed:        false,
		Reason:         status.Reason,
		ResetInSeconds: ceilSeconds(result.RetryAfter),
		Kind:           KindBudgetExceeded,
		Budget:         status,
		Warning:        strings.Join(*warnings, "; "),
	}
}

// finish applies dry-run and records the decision.
func (g *Gate) finish(ctx context.Context, userID, endpoint string, env storage.Environment, d *AdmissionDecision) *AdmissionDecision {
	g.metrics.RecordAdmission(endpoint, string(env), d.Kind)

	dryRun := g.dryRun && !d.Allowed
	if dryRun {
		g.logger.Info("dry run: denial ignored",
			"endpoint", endpoint,
			"environment", env,
			"kind", d.Kind,
			"reason", d.Reason,
		)
		warning := fmt.Sprintf("dry run: %s", d.Reason)
		if d.Warning != "" {
			warning = d.Warning + "; " + warning
		}
		d.Allowed = true
		d.Warning = warning
	}

	if g.recorder != nil {
		g.recorder.RecordDecision(ctx, DecisionEvent{
			Time:        g.now(),
			UserID:      userID,
			Endpoint:    endpoint,
			Environment: env,
			Decision:    *d,
			DryRun:      dryRun,
		})
	}
	return d
}

// RecordSpend adds the actual cost of a completed call to the user's budget.
func (g *Gate) RecordSpend(ctx context.Context, userID string, env storage.Environment, amount money.Amount) (*budget.Status, error) {
	status, err := g.budgets.RecordSpend(ctx, userID, env, amount)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, &InvalidInputError{Err: err}
		}
		g.metrics.RecordLedgerFailure("record_spend", "error")
		g.logger.Error("failed to record spend",
			"user_id", userID,
			"environment", env,
			"amount", amount,
			"error", err,
		)
		return nil, err
	}
	return status, nil
}

// Endpoint returns the cost profile of an endpoint. Unknown endpoints are free.
func (g *Gate) Endpoint(name string) EndpointConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.endpoints[name]
}

// SetEndpoints replaces the endpoint cost profiles, e.g. after a config reload.
func (g *Gate) SetEndpoints(endpoints map[string]EndpointConfig) {
	copied := make(map[string]EndpointConfig, len(endpoints))
	for name, ep := range endpoints {
		copied[name] = ep
	}

	g.mu.Lock()
	g.endpoints = copied
	g.mu.Unlock()
}

// Limiter returns the rate limiter.
func (g *Gate) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Budgets returns the budget enforcer.
func (g *Gate) Budgets() *budget.Enforcer {
	return g.budgets
}

// Configs returns the limit configuration store.
func (g *Gate) Configs() storage.LimitConfigStore {
	return g.configs
}

func ceilSeconds(d time.Duration) *int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return &s
}
