package config

import "time"

// Config is the root configuration structure for Gatekeeper.
// It contains all configuration sections for the HTTP server, admission limits,
// alert notifications and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and header limits.
	Server ServerConfig `yaml:"server"`

	// Limits contains configuration for rate limiting, budgets, the ledger
	// storage backends and retention.
	Limits LimitsConfig `yaml:"limits"`

	// Notifications configures where budget threshold alerts are delivered.
	Notifications NotificationsConfig `yaml:"notifications"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security configures API authentication, TLS and secret resolution.
	Security SecurityConfig `yaml:"security"`

	// Audit configures the admission decision audit trail.
	Audit AuditConfig `yaml:"audit"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes bounds JSON request bodies.
	// Default: 65536
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LimitsConfig contains configuration for admission control.
type LimitsConfig struct {
	// RateLimits are seeded into the limit configuration store at startup
	// (and on reload when Watch is set). Rules already in the store are replaced.
	RateLimits []RateLimitRule `yaml:"rate_limits"`

	// Endpoints describes the cost profile of metered endpoints, keyed by name.
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`

	// Budgets contains budget defaults and the over-budget policy.
	Budgets BudgetsConfig `yaml:"budgets"`

	// Storage configures the ledger backends.
	Storage LimitsStorageConfig `yaml:"storage"`

	// Retention configures pruning of old usage buckets.
	Retention RetentionConfig `yaml:"retention"`

	// Watch reloads the configuration file when it changes and re-seeds rate limits.
	// Default: false
	Watch bool `yaml:"watch"`

	// DryRun admits calls that would be denied and reports the denial as a warning.
	// Default: false
	DryRun bool `yaml:"dry_run"`
}

// RateLimitRule is the call limit of one (environment, endpoint) pair.
type RateLimitRule struct {
	// Environment is "sandbox" or "production".
	Environment string `yaml:"environment"`

	// Endpoint is the metered endpoint name.
	Endpoint string `yaml:"endpoint"`

	// MaxCallsPerMinute must be positive.
	MaxCallsPerMinute int64 `yaml:"max_calls_per_minute"`

	// MaxCallsPerHour must be positive.
	MaxCallsPerHour int64 `yaml:"max_calls_per_hour"`

	// MaxCallsPerDay must be positive.
	MaxCallsPerDay int64 `yaml:"max_calls_per_day"`
}

// EndpointConfig describes one metered endpoint.
type EndpointConfig struct {
	// CostBearing endpoints run the budget pre-check.
	CostBearing bool `yaml:"cost_bearing"`

	// EstimatedCost is a decimal amount per call, compared with
	// limits.budgets.fail_closed_above when the budget ledger is unreachable.
	// Default: "0"
	EstimatedCost string `yaml:"estimated_cost"`
}

// BudgetsConfig contains budget tracking configuration.
type BudgetsConfig struct {
	// DefaultMonthlyBudget is the monthly budget of users without an earlier period.
	// Empty means no budget.
	DefaultMonthlyBudget string `yaml:"default_monthly_budget"`

	// DefaultDailyLimit is the daily limit of users without an earlier period.
	// Empty means no daily limit.
	DefaultDailyLimit string `yaml:"default_daily_limit"`

	// AlertThreshold is the fraction (0.0-1.0) of the monthly budget at which the
	// alert fires.
	// Default: 0.8
	AlertThreshold float64 `yaml:"alert_threshold"`

	// OverBudgetAction is applied to cost-bearing calls of users over budget.
	// Options: "block", "alert"
	// Default: "block"
	OverBudgetAction string `yaml:"over_budget_action"`

	// FailClosedAbove is the safety threshold: while the budget ledger is unreachable,
	// calls whose estimated cost is at or above it are denied. "0" denies every
	// cost-bearing call during an outage.
	// Default: "0"
	FailClosedAbove string `yaml:"fail_closed_above"`

	// OutageRetryAfter is the Retry-After of calls denied because the budget ledger
	// is unreachable.
	// Default: 10s
	OutageRetryAfter time.Duration `yaml:"outage_retry_after"`

	// NotifyTimeout bounds alert delivery.
	// Default: 5s
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// LimitsStorageConfig configures the ledger backends.
type LimitsStorageConfig struct {
	// Backend holds usage buckets, budget records and limit configurations.
	// Options: "memory", "sqlite", "postgres"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// UsageBackend moves usage buckets to a shared counter store.
	// Options: "" (use Backend), "redis"
	UsageBackend string `yaml:"usage_backend"`

	// Timeout bounds every ledger call.
	// Default: 250ms
	Timeout time.Duration `yaml:"timeout"`

	// SQLite contains SQLite-specific configuration.
	SQLite LimitsSQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres LimitsPostgresConfig `yaml:"postgres"`

	// Redis contains Redis configuration, used by usage_backend "redis" and the
	// config cache.
	Redis LimitsRedisConfig `yaml:"redis"`

	// ConfigCache caches limit configurations in Redis.
	ConfigCache ConfigCacheConfig `yaml:"config_cache"`

	// Breaker configures the circuit breaker around each store.
	Breaker BreakerConfig `yaml:"breaker"`
}

// LimitsSQLiteConfig contains SQLite storage configuration.
type LimitsSQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: "data/gatekeeper.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long a writer waits for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// LimitsPostgresConfig contains PostgreSQL storage configuration.
type LimitsPostgresConfig struct {
	// DSN is the connection string.
	// Example: "host=localhost user=gatekeeper dbname=gatekeeper sslmode=disable"
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 20
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	// Default: 1h
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LimitsRedisConfig contains Redis configuration.
type LimitsRedisConfig struct {
	// Addr is the Redis address.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyPrefix prefixes every key.
	// Default: "gatekeeper:"
	KeyPrefix string `yaml:"key_prefix"`
}

// ConfigCacheConfig configures the Redis cache in front of the config store.
type ConfigCacheConfig struct {
	// Enabled turns the cache on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// TTL is how long a cached entry lives.
	// Default: 30s
	TTL time.Duration `yaml:"ttl"`
}

// BreakerConfig configures the store circuit breakers.
type BreakerConfig struct {
	// MaxRequests is the number of trial requests in the half-open state.
	// Default: 1
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for clearing counts.
	// Default: 60s
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures that open the breaker.
	// Default: 5
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// RetentionConfig configures usage bucket pruning.
type RetentionConfig struct {
	// Enabled starts the scheduled pruner with the server.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression.
	// Default: "17 * * * *"
	Schedule string `yaml:"schedule"`

	// KeepDays is how many days of buckets to keep. Must be at least 2.
	// Default: 2
	KeepDays int `yaml:"keep_days"`
}

// NotificationsConfig configures alert delivery. Alerts are always logged;
// Kafka and email are enabled by configuring them.
type NotificationsConfig struct {
	// Kafka publishes alert events to a topic.
	Kafka KafkaConfig `yaml:"kafka"`

	// Email mails alerts to the record's notification address.
	Email EmailConfig `yaml:"email"`
}

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	// Brokers enables the notifier when non-empty.
	Brokers []string `yaml:"brokers"`

	// Topic is the destination topic.
	// Default: "gatekeeper.budget-alerts"
	Topic string `yaml:"topic"`
}

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	// SMTPHost enables the notifier when set.
	SMTPHost string `yaml:"smtp_host"`

	// SMTPPort defaults to 587.
	SMTPPort int `yaml:"smtp_port"`

	// Username and Password enable PLAIN auth when Username is set.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// From is the sender address.
	From string `yaml:"from"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables redaction of emails, bearer tokens and passwords in logs.
	// Default: false
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout is the timeout for individual component health checks.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled turns span export on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Sampler is the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "always"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of new traces sampled by the "ratio" sampler.
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as service.name.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`
}

// SecurityConfig contains API security configuration.
type SecurityConfig struct {
	Auth    AuthConfig    `yaml:"auth"`
	TLS     TLSConfig     `yaml:"tls"`
	Secrets SecretsConfig `yaml:"secrets"`
}

// AuthConfig configures API key authentication on /v1.
type AuthConfig struct {
	// Enabled requires an API key on every /v1 request.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// APIKeys lists accepted keys. Key values may be ${secret:name} references.
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is one accepted API key.
type APIKeyConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`

	// Role is "service" or "admin". Only admin keys may change limits and
	// budget settings.
	// Default: "service"
	Role string `yaml:"role"`

	Disabled bool `yaml:"disabled"`
}

// TLSConfig configures TLS on the API listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites by name.
	CipherSuites []string `yaml:"cipher_suites"`

	// ClientCAFile enables client certificate verification.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuth is "require" or "verify_if_given".
	// Default: "require" when ClientCAFile is set
	ClientAuth string `yaml:"client_auth"`

	// ReloadInterval controls how often certificate files are checked for
	// changes. Zero disables reloading.
	// Default: 1m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// SecretsConfig configures resolution of ${secret:name} references.
type SecretsConfig struct {
	// EnvPrefix namespaces secret environment variables.
	// Default: "GATEKEEPER_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Directory holds one file per secret. Empty disables the file provider.
	Directory string `yaml:"directory"`

	// Watch clears cached file secrets when the directory changes.
	Watch bool `yaml:"watch"`

	// CacheTTL bounds how long resolved secrets are cached.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// AuditConfig contains configuration for the admission audit trail.
type AuditConfig struct {
	// Enabled records every admission decision.
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite AuditSQLiteConfig `yaml:"sqlite"`

	// BufferSize is the number of records queued for writing before new ones
	// are dropped.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds one write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// KeepDays is how long records are kept. Pruning runs on the
	// limits.retention schedule.
	// Default: 90
	KeepDays int `yaml:"keep_days"`
}

// AuditSQLiteConfig contains SQLite audit storage configuration.
type AuditSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`
}
