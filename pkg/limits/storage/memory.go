package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

// MemoryBackend implements Backend with in-process maps.
// Nothing survives a restart and nothing is shared between replicas, so it is
// meant for tests and single-instance development.
//
// MemoryBackend is thread-safe; every operation runs under one mutex, which makes
// each upsert atomic in the same way a database statement is.
type MemoryBackend struct {
	mu sync.Mutex

	// series maps a bucket series to window_start (unix seconds) -> calls_count.
	series  map[SeriesKey]map[int64]int64
	budgets map[budgetMapKey]*BudgetRecord
	configs map[configMapKey]LimitConfig

	cleanupInterval time.Duration
	retention       time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

type budgetMapKey struct {
	userID string
	env    Environment
	period int64
}

type configMapKey struct {
	env      Environment
	endpoint string
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// CleanupInterval is how often expired buckets are dropped.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Retention is how long buckets are kept. It must cover the day window.
	// Default: 25 hours
	Retention time.Duration
}

// NewMemoryBackend creates a memory backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a memory backend with custom settings.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 25 * time.Hour
	}

	m := &MemoryBackend{
		series:          make(map[SeriesKey]map[int64]int64),
		budgets:         make(map[budgetMapKey]*BudgetRecord),
		configs:         make(map[configMapKey]LimitConfig),
		cleanupInterval: cfg.CleanupInterval,
		retention:       cfg.Retention,
		done:            make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

func keyOfBudget(k BudgetKey) budgetMapKey {
	return budgetMapKey{userID: k.UserID, env: k.Environment, period: k.PeriodStart.UTC().Unix()}
}

// CountCalls implements UsageLedger.
func (m *MemoryBackend) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.series[key.SeriesKey][key.WindowStart.Unix()], nil
}

// SumCalls implements UsageLedger.
func (m *MemoryBackend) SumCalls(ctx context.Context, series SeriesKey, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := from.Unix(), to.Unix()
	var total int64
	for window, count := range m.series[series] {
		if window >= lo && window <= hi {
			total += count
		}
	}
	return total, nil
}

// IncrementIfBelow implements UsageLedger.
func (m *MemoryBackend) IncrementIfBelow(ctx context.Context, key BucketKey, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets, ok := m.series[key.SeriesKey]
	if !ok {
		buckets = make(map[int64]int64)
		m.series[key.SeriesKey] = buckets
	}

	window := key.WindowStart.Unix()
	if buckets[window] >= limit {
		return 0, false, nil
	}
	buckets[window]++
	return buckets[window], true, nil
}

// PruneBuckets implements UsageLedger.
func (m *MemoryBackend) PruneBuckets(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pruneLocked(before.Unix()), nil
}

func (m *MemoryBackend) pruneLocked(cutoff int64) int64 {
	var deleted int64
	for series, buckets := range m.series {
		for window := range buckets {
			if window < cutoff {
				delete(buckets, window)
				deleted++
			}
		}
		if len(buckets) == 0 {
			delete(m.series, series)
		}
	}
	return deleted
}

// GetBudget implements BudgetLedger.
func (m *MemoryBackend) GetBudget(ctx context.Context, key BudgetKey) (*BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.budgets[keyOfBudget(key)]; ok {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

// LatestBudget implements BudgetLedger.
func (m *MemoryBackend) LatestBudget(ctx context.Context, userID string, env Environment, before time.Time) (*BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *BudgetRecord
	for k, rec := range m.budgets {
		if k.userID != userID || k.env != env || !rec.PeriodStart.Before(before) {
			continue
		}
		if latest == nil || rec.PeriodStart.After(latest.PeriodStart) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRecord(latest), nil
}

// AddSpend implements BudgetLedger.
func (m *MemoryBackend) AddSpend(ctx context.Context, key BudgetKey, amount money.Amount, day time.Time, seed BudgetSettings) (*BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := m.budgets[keyOfBudget(key)]
	if !ok {
		rec = &BudgetRecord{
			UserID:         key.UserID,
			Environment:    key.Environment,
			PeriodStart:    key.PeriodStart.UTC(),
			BudgetSettings: cloneSettings(seed),
			CreatedAt:      now,
		}
		m.budgets[keyOfBudget(key)] = rec
	}

	rec.CurrentSpending = rec.CurrentSpending.Add(amount)
	if rec.DayStart.Equal(day) {
		rec.DailySpending = rec.DailySpending.Add(amount)
	} else {
		rec.DailySpending = amount
		rec.DayStart = day
	}
	rec.UpdatedAt = now

	return cloneRecord(rec), nil
}

// UpdateBudgetSettings implements BudgetLedger.
func (m *MemoryBackend) UpdateBudgetSettings(ctx context.Context, key BudgetKey, settings BudgetSettings) (*BudgetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := m.budgets[keyOfBudget(key)]
	if !ok {
		rec = &BudgetRecord{
			UserID:      key.UserID,
			Environment: key.Environment,
			PeriodStart: key.PeriodStart.UTC(),
			CreatedAt:   now,
		}
		m.budgets[keyOfBudget(key)] = rec
	}
	rec.BudgetSettings = cloneSettings(settings)
	rec.UpdatedAt = now

	return cloneRecord(rec), nil
}

// MarkAlerted implements BudgetLedger.
func (m *MemoryBackend) MarkAlerted(ctx context.Context, key BudgetKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.budgets[keyOfBudget(key)]
	if !ok || rec.AlertSent {
		return false, nil
	}
	rec.AlertSent = true
	return true, nil
}

// RearmAlert implements BudgetLedger.
func (m *MemoryBackend) RearmAlert(ctx context.Context, key BudgetKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.budgets[keyOfBudget(key)]; ok {
		rec.AlertSent = false
	}
	return nil
}

// GetLimitConfig implements LimitConfigStore.
func (m *MemoryBackend) GetLimitConfig(ctx context.Context, env Environment, endpoint string) (*LimitConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok := m.configs[configMapKey{env: env, endpoint: endpoint}]; ok {
		return &cfg, nil
	}
	return nil, nil
}

// ListLimitConfigs implements LimitConfigStore.
func (m *MemoryBackend) ListLimitConfigs(ctx context.Context) ([]LimitConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LimitConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	sortLimitConfigs(out)
	return out, nil
}

// PutLimitConfig implements LimitConfigStore.
func (m *MemoryBackend) PutLimitConfig(ctx context.Context, cfg LimitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg.UpdatedAt = time.Now().UTC()
	m.configs[configMapKey{env: cfg.Environment, endpoint: cfg.Endpoint}] = cfg
	return nil
}

// DeleteLimitConfig implements LimitConfigStore.
func (m *MemoryBackend) DeleteLimitConfig(ctx context.Context, env Environment, endpoint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := configMapKey{env: env, endpoint: endpoint}
	_, existed := m.configs[k]
	delete(m.configs, k)
	return existed, nil
}

// Ping implements Pinger.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// cleanupLoop drops buckets that fell out of the retention period.
func (m *MemoryBackend) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.pruneLocked(time.Now().Add(-m.retention).Unix())
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

func cloneSettings(s BudgetSettings) BudgetSettings {
	out := s
	if s.MonthlyBudget != nil {
		v := *s.MonthlyBudget
		out.MonthlyBudget = &v
	}
	if s.DailyLimit != nil {
		v := *s.DailyLimit
		out.DailyLimit = &v
	}
	if s.NotificationEmail != nil {
		v := *s.NotificationEmail
		out.NotificationEmail = &v
	}
	return out
}

func cloneRecord(rec *BudgetRecord) *BudgetRecord {
	out := *rec
	out.BudgetSettings = cloneSettings(rec.BudgetSettings)
	return &out
}

func sortLimitConfigs(cfgs []LimitConfig) {
	sort.Slice(cfgs, func(i, j int) bool {
		if cfgs[i].Environment != cfgs[j].Environment {
			return cfgs[i].Environment < cfgs[j].Environment
		}
		return cfgs[i].Endpoint < cfgs[j].Endpoint
	})
}

var _ Backend = (*MemoryBackend)(nil)
