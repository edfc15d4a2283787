package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go SQLite driver, registered as "sqlite"

	"modelbench/gatekeeper/pkg/limits/money"
)

// SQLite driver names.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// SQLiteBackend implements Backend on a single SQLite database file.
// It is suitable for single-host deployments where several processes share the file.
//
// The database runs in WAL mode with a single writer connection. Every admission
// mutation is one upsert statement with RETURNING, so concurrent callers never
// lose an increment.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	incrementStmt *sql.Stmt
	countStmt     *sql.Stmt
	sumStmt       *sql.Stmt
	pruneStmt     *sql.Stmt
	addSpendStmt  *sql.Stmt
	getBudgetStmt *sql.Stmt
	latestStmt    *sql.Stmt
	settingsStmt  *sql.Stmt
	alertStmt     *sql.Stmt
	rearmStmt     *sql.Stmt
	getConfigStmt *sql.Stmt
	putConfigStmt *sql.Stmt
	delConfigStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver selects "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo).
	// Default: "sqlite"
	Driver string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// sqliteDSN builds the connection string; the two drivers spell pragmas differently.
func sqliteDSN(cfg SQLiteBackendConfig) (string, error) {
	ms := cfg.BusyTimeout.Milliseconds()
	switch cfg.Driver {
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.DBPath, ms), nil
	case DriverCGO:
		return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
			cfg.DBPath, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_buckets (
		user_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		environment TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		calls_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, endpoint, environment, window_start)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_window ON usage_buckets(window_start);

	CREATE TABLE IF NOT EXISTS budget_records (
		user_id TEXT NOT NULL,
		environment TEXT NOT NULL,
		period_start INTEGER NOT NULL,
		monthly_budget INTEGER,
		daily_limit INTEGER,
		alert_threshold REAL NOT NULL DEFAULT 0.8,
		email_notifications_enabled INTEGER NOT NULL DEFAULT 0,
		notification_email TEXT,
		current_spending INTEGER NOT NULL DEFAULT 0,
		daily_spending INTEGER NOT NULL DEFAULT 0,
		day_start INTEGER NOT NULL DEFAULT 0,
		alert_sent INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, environment, period_start)
	);

	CREATE TABLE IF NOT EXISTS limit_configs (
		environment TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		max_calls_per_minute INTEGER NOT NULL,
		max_calls_per_hour INTEGER NOT NULL,
		max_calls_per_day INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (environment, endpoint)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

const budgetColumns = `user_id, environment, period_start, monthly_budget, daily_limit, alert_threshold,
	email_notifications_enabled, notification_email, current_spending, daily_spending, day_start,
	alert_sent, created_at, updated_at`

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	statements := []struct {
		target **sql.Stmt
		name   string
		query  string
	}{
		{&s.incrementStmt, "increment", `
			INSERT INTO usage_buckets (user_id, endpoint, environment, window_start, calls_count)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT (user_id, endpoint, environment, window_start) DO UPDATE SET
				calls_count = calls_count + 1
			WHERE calls_count < ?
			RETURNING calls_count`},
		{&s.countStmt, "count", `
			SELECT calls_count FROM usage_buckets
			WHERE user_id = ? AND endpoint = ? AND environment = ? AND window_start = ?`},
		{&s.sumStmt, "sum", `
			SELECT COALESCE(SUM(calls_count), 0) FROM usage_buckets
			WHERE user_id = ? AND endpoint = ? AND environment = ? AND window_start BETWEEN ? AND ?`},
		{&s.pruneStmt, "prune", `DELETE FROM usage_buckets WHERE window_start < ?`},
		{&s.addSpendStmt, "add spend", `
			INSERT INTO budget_records (` + budgetColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT (user_id, environment, period_start) DO UPDATE SET
				current_spending = current_spending + excluded.current_spending,
				daily_spending = CASE WHEN day_start = excluded.day_start
					THEN daily_spending + excluded.daily_spending
					ELSE excluded.daily_spending END,
				day_start = excluded.day_start,
				updated_at = excluded.updated_at
			RETURNING ` + budgetColumns},
		{&s.getBudgetStmt, "get budget", `
			SELECT ` + budgetColumns + ` FROM budget_records
			WHERE user_id = ? AND environment = ? AND period_start = ?`},
		{&s.latestStmt, "latest budget", `
			SELECT ` + budgetColumns + ` FROM budget_records
			WHERE user_id = ? AND environment = ? AND period_start < ?
			ORDER BY period_start DESC LIMIT 1`},
		{&s.settingsStmt, "update settings", `
			INSERT INTO budget_records (` + budgetColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?, ?)
			ON CONFLICT (user_id, environment, period_start) DO UPDATE SET
				monthly_budget = excluded.monthly_budget,
				daily_limit = excluded.daily_limit,
				alert_threshold = excluded.alert_threshold,
				email_notifications_enabled = excluded.email_notifications_enabled,
				notification_email = excluded.notification_email,
				updated_at = excluded.updated_at
			RETURNING ` + budgetColumns},
		{&s.alertStmt, "mark alerted", `
			UPDATE budget_records SET alert_sent = 1
			WHERE user_id = ? AND environment = ? AND period_start = ? AND alert_sent = 0`},
		{&s.rearmStmt, "rearm alert", `
			UPDATE budget_records SET alert_sent = 0
			WHERE user_id = ? AND environment = ? AND period_start = ?`},
		{&s.getConfigStmt, "get config", `
			SELECT environment, endpoint, max_calls_per_minute, max_calls_per_hour, max_calls_per_day, updated_at
			FROM limit_configs WHERE environment = ? AND endpoint = ?`},
		{&s.putConfigStmt, "put config", `
			INSERT INTO limit_configs (environment, endpoint, max_calls_per_minute, max_calls_per_hour, max_calls_per_day, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (environment, endpoint) DO UPDATE SET
				max_calls_per_minute = excluded.max_calls_per_minute,
				max_calls_per_hour = excluded.max_calls_per_hour,
				max_calls_per_day = excluded.max_calls_per_day,
				updated_at = excluded.updated_at`},
		{&s.delConfigStmt, "delete config", `DELETE FROM limit_configs WHERE environment = ? AND endpoint = ?`},
	}

	for _, st := range statements {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		*st.target = stmt
	}

	return nil
}

// CountCalls implements UsageLedger.
func (s *SQLiteBackend) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	var count int64
	err := s.countStmt.QueryRowContext(ctx,
		key.UserID, key.Endpoint, string(key.Environment), key.WindowStart.Unix(),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return count, nil
}

// SumCalls implements UsageLedger.
func (s *SQLiteBackend) SumCalls(ctx context.Context, series SeriesKey, from, to time.Time) (int64, error) {
	var total int64
	err := s.sumStmt.QueryRowContext(ctx,
		series.UserID, series.Endpoint, string(series.Environment), from.Unix(), to.Unix(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum calls: %w", err)
	}
	return total, nil
}

// IncrementIfBelow implements UsageLedger.
func (s *SQLiteBackend) IncrementIfBelow(ctx context.Context, key BucketKey, limit int64) (int64, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	var count int64
	err := s.incrementStmt.QueryRowContext(ctx,
		key.UserID, key.Endpoint, string(key.Environment), key.WindowStart.Unix(), limit,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The conflict WHERE clause rejected the update: bucket already full.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment bucket: %w", err)
	}
	return count, true, nil
}

// PruneBuckets implements UsageLedger.
func (s *SQLiteBackend) PruneBuckets(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.pruneStmt.ExecContext(ctx, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune buckets: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// GetBudget implements BudgetLedger.
func (s *SQLiteBackend) GetBudget(ctx context.Context, key BudgetKey) (*BudgetRecord, error) {
	rec, err := scanBudget(s.getBudgetStmt.QueryRowContext(ctx,
		key.UserID, string(key.Environment), key.PeriodStart.Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return rec, nil
}

// LatestBudget implements BudgetLedger.
func (s *SQLiteBackend) LatestBudget(ctx context.Context, userID string, env Environment, before time.Time) (*BudgetRecord, error) {
	rec, err := scanBudget(s.latestStmt.QueryRowContext(ctx, userID, string(env), before.Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest budget: %w", err)
	}
	return rec, nil
}

// AddSpend implements BudgetLedger.
func (s *SQLiteBackend) AddSpend(ctx context.Context, key BudgetKey, amount money.Amount, day time.Time, seed BudgetSettings) (*BudgetRecord, error) {
	now := time.Now().Unix()
	rec, err := scanBudget(s.addSpendStmt.QueryRowContext(ctx,
		key.UserID, string(key.Environment), key.PeriodStart.Unix(),
		nullableAmount(seed.MonthlyBudget), nullableAmount(seed.DailyLimit), seed.AlertThreshold,
		seed.EmailNotificationsEnabled, nullableString(seed.NotificationEmail),
		amount.Micros(), amount.Micros(), day.Unix(),
		now, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to add spend: %w", err)
	}
	return rec, nil
}

// UpdateBudgetSettings implements BudgetLedger.
func (s *SQLiteBackend) UpdateBudgetSettings(ctx context.Context, key BudgetKey, settings BudgetSettings) (*BudgetRecord, error) {
	now := time.Now().Unix()
	rec, err := scanBudget(s.settingsStmt.QueryRowContext(ctx,
		key.UserID, string(key.Environment), key.PeriodStart.Unix(),
		nullableAmount(settings.MonthlyBudget), nullableAmount(settings.DailyLimit), settings.AlertThreshold,
		settings.EmailNotificationsEnabled, nullableString(settings.NotificationEmail),
		now, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update budget settings: %w", err)
	}
	return rec, nil
}

// MarkAlerted implements BudgetLedger.
func (s *SQLiteBackend) MarkAlerted(ctx context.Context, key BudgetKey) (bool, error) {
	result, err := s.alertStmt.ExecContext(ctx, key.UserID, string(key.Environment), key.PeriodStart.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to mark alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// RearmAlert implements BudgetLedger.
func (s *SQLiteBackend) RearmAlert(ctx context.Context, key BudgetKey) error {
	if _, err := s.rearmStmt.ExecContext(ctx, key.UserID, string(key.Environment), key.PeriodStart.Unix()); err != nil {
		return fmt.Errorf("failed to rearm alert: %w", err)
	}
	return nil
}

// GetLimitConfig implements LimitConfigStore.
func (s *SQLiteBackend) GetLimitConfig(ctx context.Context, env Environment, endpoint string) (*LimitConfig, error) {
	cfg, err := scanLimitConfig(s.getConfigStmt.QueryRowContext(ctx, string(env), endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load limit config: %w", err)
	}
	return cfg, nil
}

// ListLimitConfigs implements LimitConfigStore.
func (s *SQLiteBackend) ListLimitConfigs(ctx context.Context) ([]LimitConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT environment, endpoint, max_calls_per_minute, max_calls_per_hour, max_calls_per_day, updated_at
		FROM limit_configs ORDER BY environment, endpoint`)
	if err != nil {
		return nil, fmt.Errorf("failed to list limit configs: %w", err)
	}
	defer rows.Close()

	var cfgs []LimitConfig
	for rows.Next() {
		cfg, err := scanLimitConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit config: %w", err)
		}
		cfgs = append(cfgs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return cfgs, nil
}

// PutLimitConfig implements LimitConfigStore.
func (s *SQLiteBackend) PutLimitConfig(ctx context.Context, cfg LimitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := s.putConfigStmt.ExecContext(ctx,
		string(cfg.Environment), cfg.Endpoint,
		cfg.MaxCallsPerMinute, cfg.MaxCallsPerHour, cfg.MaxCallsPerDay,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save limit config: %w", err)
	}
	return nil
}

// DeleteLimitConfig implements LimitConfigStore.
func (s *SQLiteBackend) DeleteLimitConfig(ctx context.Context, env Environment, endpoint string) (bool, error) {
	result, err := s.delConfigStmt.ExecContext(ctx, string(env), endpoint)
	if err != nil {
		return false, fmt.Errorf("failed to delete limit config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Ping implements Pinger.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.incrementStmt, s.countStmt, s.sumStmt, s.pruneStmt,
			s.addSpendStmt, s.getBudgetStmt, s.latestStmt, s.settingsStmt, s.alertStmt, s.rearmStmt,
			s.getConfigStmt, s.putConfigStmt, s.delConfigStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (*BudgetRecord, error) {
	var (
		rec                     BudgetRecord
		env                     string
		periodStart, dayStart   int64
		createdAt, updatedAt    int64
		monthly, daily          sql.NullInt64
		email                   sql.NullString
		current, dailySpent     int64
		emailEnabled, alertSent bool
	)

	err := row.Scan(
		&rec.UserID, &env, &periodStart, &monthly, &daily, &rec.AlertThreshold,
		&emailEnabled, &email, &current, &dailySpent, &dayStart,
		&alertSent, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Environment = Environment(env)
	rec.PeriodStart = time.Unix(periodStart, 0).UTC()
	rec.MonthlyBudget = amountFromNull(monthly)
	rec.DailyLimit = amountFromNull(daily)
	rec.EmailNotificationsEnabled = emailEnabled
	if email.Valid {
		v := email.String
		rec.NotificationEmail = &v
	}
	rec.CurrentSpending = money.FromMicros(current)
	rec.DailySpending = money.FromMicros(dailySpent)
	if dayStart > 0 {
		rec.DayStart = time.Unix(dayStart, 0).UTC()
	}
	rec.AlertSent = alertSent
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &rec, nil
}

func scanLimitConfig(row rowScanner) (*LimitConfig, error) {
	var (
		cfg       LimitConfig
		env       string
		updatedAt int64
	)
	if err := row.Scan(&env, &cfg.Endpoint, &cfg.MaxCallsPerMinute, &cfg.MaxCallsPerHour, &cfg.MaxCallsPerDay, &updatedAt); err != nil {
		return nil, err
	}
	cfg.Environment = Environment(env)
	cfg.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cfg, nil
}

func nullableAmount(a *money.Amount) sql.NullInt64 {
	if a == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: a.Micros(), Valid: true}
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func amountFromNull(n sql.NullInt64) *money.Amount {
	if !n.Valid {
		return nil
	}
	a := money.FromMicros(n.Int64)
	return &a
}

var _ Backend = (*SQLiteBackend)(nil)
