package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"modelbench/gatekeeper/pkg/limits/money"
)

// PostgresBackend implements Backend on PostgreSQL through GORM.
// It is the backend for multi-replica deployments: every replica shares the same
// rows and the database serializes conflicting upserts.
type PostgresBackend struct {
	db *gorm.DB
}

// PostgresBackendConfig configures the PostgreSQL backend.
type PostgresBackendConfig struct {
	// DSN is the connection string, e.g. "host=db user=gatekeeper dbname=gatekeeper sslmode=disable".
	DSN string

	// MaxOpenConns defaults to 20.
	MaxOpenConns int

	// MaxIdleConns defaults to 5.
	MaxIdleConns int

	// ConnMaxLifetime defaults to 1 hour.
	ConnMaxLifetime time.Duration
}

type usageBucketRow struct {
	UserID      string    `gorm:"primaryKey;type:varchar(256)"`
	Endpoint    string    `gorm:"primaryKey;type:varchar(256)"`
	Environment string    `gorm:"primaryKey;type:varchar(32)"`
	WindowStart time.Time `gorm:"primaryKey;index"`
	CallsCount  int64     `gorm:"not null"`
}

func (usageBucketRow) TableName() string { return "usage_buckets" }

type budgetRecordRow struct {
	UserID                    string    `gorm:"primaryKey;type:varchar(256)"`
	Environment               string    `gorm:"primaryKey;type:varchar(32)"`
	PeriodStart               time.Time `gorm:"primaryKey"`
	MonthlyBudget             *int64
	DailyLimit                *int64
	AlertThreshold            float64 `gorm:"not null"`
	EmailNotificationsEnabled bool    `gorm:"not null"`
	NotificationEmail         *string `gorm:"type:varchar(320)"`
	CurrentSpending           int64   `gorm:"not null"`
	DailySpending             int64   `gorm:"not null"`
	DayStart                  time.Time
	AlertSent                 bool      `gorm:"not null"`
	CreatedAt                 time.Time `gorm:"not null"`
	UpdatedAt                 time.Time `gorm:"not null"`
}

func (budgetRecordRow) TableName() string { return "budget_records" }

type limitConfigRow struct {
	Environment       string    `gorm:"primaryKey;type:varchar(32)"`
	Endpoint          string    `gorm:"primaryKey;type:varchar(256)"`
	MaxCallsPerMinute int64     `gorm:"not null"`
	MaxCallsPerHour   int64     `gorm:"not null"`
	MaxCallsPerDay    int64     `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (limitConfigRow) TableName() string { return "limit_configs" }

// NewPostgresBackend connects, configures the pool and migrates the schema.
func NewPostgresBackend(cfg PostgresBackendConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = time.Hour
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&usageBucketRow{}, &budgetRecordRow{}, &limitConfigRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresBackend{db: db}, nil
}

var (
	bucketConflict = []clause.Column{{Name: "user_id"}, {Name: "endpoint"}, {Name: "environment"}, {Name: "window_start"}}
	budgetConflict = []clause.Column{{Name: "user_id"}, {Name: "environment"}, {Name: "period_start"}}
	configConflict = []clause.Column{{Name: "environment"}, {Name: "endpoint"}}
)

// CountCalls implements UsageLedger.
func (p *PostgresBackend) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	var row usageBucketRow
	err := p.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ? AND environment = ? AND window_start = ?",
			key.UserID, key.Endpoint, string(key.Environment), key.WindowStart).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return row.CallsCount, nil
}

// SumCalls implements UsageLedger.
func (p *PostgresBackend) SumCalls(ctx context.Context, series SeriesKey, from, to time.Time) (int64, error) {
	var total int64
	err := p.db.WithContext(ctx).Model(&usageBucketRow{}).
		Select("COALESCE(SUM(calls_count), 0)").
		Where("user_id = ? AND endpoint = ? AND environment = ? AND window_start BETWEEN ? AND ?",
			series.UserID, series.Endpoint, string(series.Environment), from.UTC(), to.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum calls: %w", err)
	}
	return total, nil
}

// IncrementIfBelow implements UsageLedger.
func (p *PostgresBackend) IncrementIfBelow(ctx context.Context, key BucketKey, limit int64) (int64, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	row := usageBucketRow{
		UserID:      key.UserID,
		Endpoint:    key.Endpoint,
		Environment: string(key.Environment),
		WindowStart: key.WindowStart.UTC(),
		CallsCount:  1,
	}
	res := p.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: bucketConflict,
			DoUpdates: clause.Assignments(map[string]any{
				"calls_count": gorm.Expr("usage_buckets.calls_count + 1"),
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("usage_buckets.calls_count < ?", limit),
			}},
		},
		clause.Returning{Columns: []clause.Column{{Name: "calls_count"}}},
	).Create(&row)
	if res.Error != nil {
		return 0, false, fmt.Errorf("failed to increment bucket: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	return row.CallsCount, true, nil
}

// PruneBuckets implements UsageLedger.
func (p *PostgresBackend) PruneBuckets(ctx context.Context, before time.Time) (int64, error) {
	res := p.db.WithContext(ctx).Where("window_start < ?", before.UTC()).Delete(&usageBucketRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune buckets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetBudget implements BudgetLedger.
func (p *PostgresBackend) GetBudget(ctx context.Context, key BudgetKey) (*BudgetRecord, error) {
	var row budgetRecordRow
	err := p.db.WithContext(ctx).
		Where("user_id = ? AND environment = ? AND period_start = ?",
			key.UserID, string(key.Environment), key.PeriodStart.UTC()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return row.toRecord(), nil
}

// LatestBudget implements BudgetLedger.
func (p *PostgresBackend) LatestBudget(ctx context.Context, userID string, env Environment, before time.Time) (*BudgetRecord, error) {
	var row budgetRecordRow
	err := p.db.WithContext(ctx).
		Where("user_id = ? AND environment = ? AND period_start < ?", userID, string(env), before.UTC()).
		Order("period_start DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest budget: %w", err)
	}
	return row.toRecord(), nil
}

// AddSpend implements BudgetLedger.
func (p *PostgresBackend) AddSpend(ctx context.Context, key BudgetKey, amount money.Amount, day time.Time, seed BudgetSettings) (*BudgetRecord, error) {
	now := time.Now().UTC()
	row := budgetRowFromSettings(key, seed, now)
	row.CurrentSpending = amount.Micros()
	row.DailySpending = amount.Micros()
	row.DayStart = day.UTC()

	err := p.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: budgetConflict,
			DoUpdates: clause.Assignments(map[string]any{
				"current_spending": gorm.Expr("budget_records.current_spending + excluded.current_spending"),
				"daily_spending": gorm.Expr("CASE WHEN budget_records.day_start = excluded.day_start " +
					"THEN budget_records.daily_spending + excluded.daily_spending ELSE excluded.daily_spending END"),
				"day_start":  gorm.Expr("excluded.day_start"),
				"updated_at": gorm.Expr("excluded.updated_at"),
			}),
		},
		clause.Returning{},
	).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to add spend: %w", err)
	}
	return row.toRecord(), nil
}

// UpdateBudgetSettings implements BudgetLedger.
func (p *PostgresBackend) UpdateBudgetSettings(ctx context.Context, key BudgetKey, settings BudgetSettings) (*BudgetRecord, error) {
	row := budgetRowFromSettings(key, settings, time.Now().UTC())

	err := p.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: budgetConflict,
			DoUpdates: clause.AssignmentColumns([]string{
				"monthly_budget", "daily_limit", "alert_threshold",
				"email_notifications_enabled", "notification_email", "updated_at",
			}),
		},
		clause.Returning{},
	).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update budget settings: %w", err)
	}
	return row.toRecord(), nil
}

// MarkAlerted implements BudgetLedger.
func (p *PostgresBackend) MarkAlerted(ctx context.Context, key BudgetKey) (bool, error) {
	res := p.db.WithContext(ctx).Model(&budgetRecordRow{}).
		Where("user_id = ? AND environment = ? AND period_start = ? AND alert_sent = ?",
			key.UserID, string(key.Environment), key.PeriodStart.UTC(), false).
		Update("alert_sent", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark alert: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RearmAlert implements BudgetLedger.
func (p *PostgresBackend) RearmAlert(ctx context.Context, key BudgetKey) error {
	err := p.db.WithContext(ctx).Model(&budgetRecordRow{}).
		Where("user_id = ? AND environment = ? AND period_start = ?",
			key.UserID, string(key.Environment), key.PeriodStart.UTC()).
		Update("alert_sent", false).Error
	if err != nil {
		return fmt.Errorf("failed to rearm alert: %w", err)
	}
	return nil
}

// GetLimitConfig implements LimitConfigStore.
func (p *PostgresBackend) GetLimitConfig(ctx context.Context, env Environment, endpoint string) (*LimitConfig, error) {
	var row limitConfigRow
	err := p.db.WithContext(ctx).
		Where("environment = ? AND endpoint = ?", string(env), endpoint).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load limit config: %w", err)
	}
	cfg := row.toConfig()
	return &cfg, nil
}

// ListLimitConfigs implements LimitConfigStore.
func (p *PostgresBackend) ListLimitConfigs(ctx context.Context) ([]LimitConfig, error) {
	var rows []limitConfigRow
	if err := p.db.WithContext(ctx).Order("environment, endpoint").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list limit configs: %w", err)
	}

	cfgs := make([]LimitConfig, 0, len(rows))
	for _, row := range rows {
		cfgs = append(cfgs, row.toConfig())
	}
	return cfgs, nil
}

// PutLimitConfig implements LimitConfigStore.
func (p *PostgresBackend) PutLimitConfig(ctx context.Context, cfg LimitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	row := limitConfigRow{
		Environment:       string(cfg.Environment),
		Endpoint:          cfg.Endpoint,
		MaxCallsPerMinute: cfg.MaxCallsPerMinute,
		MaxCallsPerHour:   cfg.MaxCallsPerHour,
		MaxCallsPerDay:    cfg.MaxCallsPerDay,
		UpdatedAt:         time.Now().UTC(),
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: configConflict,
		DoUpdates: clause.AssignmentColumns([]string{
			"max_calls_per_minute", "max_calls_per_hour", "max_calls_per_day", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save limit config: %w", err)
	}
	return nil
}

// DeleteLimitConfig implements LimitConfigStore.
func (p *PostgresBackend) DeleteLimitConfig(ctx context.Context, env Environment, endpoint string) (bool, error) {
	res := p.db.WithContext(ctx).
		Where("environment = ? AND endpoint = ?", string(env), endpoint).
		Delete(&limitConfigRow{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete limit config: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Ping implements Pinger.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PostgresBackend) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func budgetRowFromSettings(key BudgetKey, s BudgetSettings, now time.Time) budgetRecordRow {
	row := budgetRecordRow{
		UserID:                    key.UserID,
		Environment:               string(key.Environment),
		PeriodStart:               key.PeriodStart.UTC(),
		AlertThreshold:            s.AlertThreshold,
		EmailNotificationsEnabled: s.EmailNotificationsEnabled,
		NotificationEmail:         s.NotificationEmail,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if s.MonthlyBudget != nil {
		v := s.MonthlyBudget.Micros()
		row.MonthlyBudget = &v
	}
	if s.DailyLimit != nil {
		v := s.DailyLimit.Micros()
		row.DailyLimit = &v
	}
	return row
}

func (r budgetRecordRow) toRecord() *BudgetRecord {
	rec := &BudgetRecord{
		UserID:      r.UserID,
		Environment: Environment(r.Environment),
		PeriodStart: r.PeriodStart.UTC(),
		BudgetSettings: BudgetSettings{
			AlertThreshold:            r.AlertThreshold,
			EmailNotificationsEnabled: r.EmailNotificationsEnabled,
			NotificationEmail:         r.NotificationEmail,
		},
		CurrentSpending: money.FromMicros(r.CurrentSpending),
		DailySpending:   money.FromMicros(r.DailySpending),
		AlertSent:       r.AlertSent,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if !r.DayStart.IsZero() {
		rec.DayStart = r.DayStart.UTC()
	}
	if r.MonthlyBudget != nil {
		a := money.FromMicros(*r.MonthlyBudget)
		rec.MonthlyBudget = &a
	}
	if r.DailyLimit != nil {
		a := money.FromMicros(*r.DailyLimit)
		rec.DailyLimit = &a
	}
	return rec
}

func (r limitConfigRow) toConfig() LimitConfig {
	return LimitConfig{
		Environment:       Environment(r.Environment),
		Endpoint:          r.Endpoint,
		MaxCallsPerMinute: r.MaxCallsPerMinute,
		MaxCallsPerHour:   r.MaxCallsPerHour,
		MaxCallsPerDay:    r.MaxCallsPerDay,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

var _ Backend = (*PostgresBackend)(nil)
