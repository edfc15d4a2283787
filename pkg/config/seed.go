package config

import (
	"context"
	"fmt"

	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/enforcement"
	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/storage"
)

// LimitConfigs converts the rate limit rules to store records.
func (c *LimitsConfig) LimitConfigs() []storage.LimitConfig {
	out := make([]storage.LimitConfig, 0, len(c.RateLimits))
	for _, r := range c.RateLimits {
		out = append(out, storage.LimitConfig{
			Environment:       storage.Environment(r.Environment),
			Endpoint:          r.Endpoint,
			MaxCallsPerMinute: r.MaxCallsPerMinute,
			MaxCallsPerHour:   r.MaxCallsPerHour,
			MaxCallsPerDay:    r.MaxCallsPerDay,
		})
	}
	return out
}

// EndpointProfiles converts the endpoint section for the admission gate.
func (c *LimitsConfig) EndpointProfiles() (map[string]limits.EndpointConfig, error) {
	out := make(map[string]limits.EndpointConfig, len(c.Endpoints))
	for name, ep := range c.Endpoints {
		cost := money.Zero
		if ep.EstimatedCost != "" {
			parsed, err := money.Parse(ep.EstimatedCost)
			if err != nil {
				return nil, fmt.Errorf("limits.endpoints.%s.estimated_cost: %w", name, err)
			}
			cost = parsed
		}
		out[name] = limits.EndpointConfig{CostBearing: ep.CostBearing, EstimatedCost: cost}
	}
	return out, nil
}

// Defaults returns the settings a user's first budget record starts with.
func (c *BudgetsConfig) Defaults() (storage.BudgetSettings, error) {
	settings := storage.BudgetSettings{AlertThreshold: c.AlertThreshold}

	if c.DefaultMonthlyBudget != "" {
		amount, err := money.Parse(c.DefaultMonthlyBudget)
		if err != nil {
			return settings, fmt.Errorf("limits.budgets.default_monthly_budget: %w", err)
		}
		settings.MonthlyBudget = &amount
	}
	if c.DefaultDailyLimit != "" {
		amount, err := money.Parse(c.DefaultDailyLimit)
		if err != nil {
			return settings, fmt.Errorf("limits.budgets.default_daily_limit: %w", err)
		}
		settings.DailyLimit = &amount
	}
	return settings, nil
}

// Enforcement returns the over-budget and outage policy.
func (c *BudgetsConfig) Enforcement() (enforcement.Config, error) {
	threshold, err := money.Parse(c.FailClosedAbove)
	if err != nil {
		return enforcement.Config{}, fmt.Errorf("limits.budgets.fail_closed_above: %w", err)
	}
	return enforcement.Config{
		OverBudgetAction: enforcement.Action(c.OverBudgetAction),
		FailClosedAbove:  threshold,
		OutageRetryAfter: c.OutageRetryAfter,
	}, nil
}

// SeedLimits writes every configured rule into the store, replacing existing rules
// for the same (environment, endpoint). Rules only present in the store are kept.
// It returns the number of rules written.
func SeedLimits(ctx context.Context, store storage.LimitConfigStore, cfg *LimitsConfig) (int, error) {
	written := 0
	for _, lc := range cfg.LimitConfigs() {
		if err := lc.Validate(); err != nil {
			return written, err
		}
		if err := store.PutLimitConfig(ctx, lc); err != nil {
			return written, fmt.Errorf("failed to seed limit %s/%s: %w", lc.Environment, lc.Endpoint, err)
		}
		written++
	}
	return written, nil
}
