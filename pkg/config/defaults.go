package config

import "time"

// Default values for server configuration.
const (
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20 // 1MB
	DefaultMaxBodyBytes    = 64 << 10
)

// Default values for budgets and enforcement.
const (
	DefaultAlertThreshold   = 0.8
	DefaultOverBudgetAction = "block"
	DefaultFailClosedAbove  = "0"
	DefaultNotifyTimeout    = 5 * time.Second
	DefaultOutageRetryAfter = 10 * time.Second
)

// Default values for limits storage.
const (
	DefaultStorageBackend        = "sqlite"
	DefaultStorageTimeout        = 250 * time.Millisecond
	DefaultSQLitePath            = "data/gatekeeper.db"
	DefaultSQLiteDriver          = "sqlite"
	DefaultSQLiteBusyTimeout     = 5 * time.Second
	DefaultSQLiteCheckpoint      = 5 * time.Minute
	DefaultPostgresMaxOpenConns  = 20
	DefaultPostgresMaxIdleConns  = 5
	DefaultPostgresConnLifetime  = time.Hour
	DefaultRedisAddr             = "localhost:6379"
	DefaultRedisKeyPrefix        = "gatekeeper:"
	DefaultConfigCacheTTL        = 30 * time.Second
	DefaultBreakerMaxRequests    = 1
	DefaultBreakerInterval       = 60 * time.Second
	DefaultBreakerTimeout        = 10 * time.Second
	DefaultBreakerFailureTrigger = 5
)

// Default values for retention.
const (
	DefaultRetentionSchedule = "17 * * * *"
	DefaultRetentionKeepDays = 2
)

// Default values for notifications.
const (
	DefaultKafkaTopic = "gatekeeper.budget-alerts"
	DefaultSMTPPort   = 587
)

// Default values for telemetry.
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultHealthCheckTimeout = 2 * time.Second
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampler     = "always"
	DefaultServiceName        = "gatekeeper"
)

// Default values for security.
const (
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSClientAuth     = "require"
	DefaultTLSReloadInterval = time.Minute
	DefaultSecretEnvPrefix   = "GATEKEEPER_SECRET_"
	DefaultSecretCacheTTL    = 5 * time.Minute
	DefaultAPIKeyRole        = "service"
)

// Default values for the audit trail.
const (
	DefaultAuditBackend      = "sqlite"
	DefaultAuditSQLitePath   = "data/audit.db"
	DefaultAuditBufferSize   = 1000
	DefaultAuditWriteTimeout = 5 * time.Second
	DefaultAuditKeepDays     = 90
)

// ApplyDefaults applies default values to any unset configuration fields.
// It modifies the provided Config in place. Fields that are already set
// (non-zero values) are not modified.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimitsDefaults(&cfg.Limits)
	applyNotificationDefaults(&cfg.Notifications)
	applySecurityDefaults(&cfg.Security)
	applyAuditDefaults(&cfg.Audit)

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultServiceName
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	// Budgets
	if cfg.Budgets.AlertThreshold == 0 {
		cfg.Budgets.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.Budgets.OverBudgetAction == "" {
		cfg.Budgets.OverBudgetAction = DefaultOverBudgetAction
	}
	if cfg.Budgets.FailClosedAbove == "" {
		cfg.Budgets.FailClosedAbove = DefaultFailClosedAbove
	}
	if cfg.Budgets.OutageRetryAfter == 0 {
		cfg.Budgets.OutageRetryAfter = DefaultOutageRetryAfter
	}
	if cfg.Budgets.NotifyTimeout == 0 {
		cfg.Budgets.NotifyTimeout = DefaultNotifyTimeout
	}

	for name, ep := range cfg.Endpoints {
		if ep.EstimatedCost == "" {
			ep.EstimatedCost = "0"
			cfg.Endpoints[name] = ep
		}
	}

	// Storage
	s := &cfg.Storage
	if s.Backend == "" {
		s.Backend = DefaultStorageBackend
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultStorageTimeout
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultSQLitePath
	}
	if s.SQLite.Driver == "" {
		s.SQLite.Driver = DefaultSQLiteDriver
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if s.SQLite.CheckpointInterval == 0 {
		s.SQLite.CheckpointInterval = DefaultSQLiteCheckpoint
	}
	if s.Postgres.MaxOpenConns == 0 {
		s.Postgres.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if s.Postgres.MaxIdleConns == 0 {
		s.Postgres.MaxIdleConns = DefaultPostgresMaxIdleConns
	}
	if s.Postgres.ConnMaxLifetime == 0 {
		s.Postgres.ConnMaxLifetime = DefaultPostgresConnLifetime
	}
	if s.Redis.Addr == "" {
		s.Redis.Addr = DefaultRedisAddr
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if s.ConfigCache.TTL == 0 {
		s.ConfigCache.TTL = DefaultConfigCacheTTL
	}
	if s.Breaker.MaxRequests == 0 {
		s.Breaker.MaxRequests = DefaultBreakerMaxRequests
	}
	if s.Breaker.Interval == 0 {
		s.Breaker.Interval = DefaultBreakerInterval
	}
	if s.Breaker.Timeout == 0 {
		s.Breaker.Timeout = DefaultBreakerTimeout
	}
	if s.Breaker.FailureThreshold == 0 {
		s.Breaker.FailureThreshold = DefaultBreakerFailureTrigger
	}

	// Retention
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}
	if cfg.Retention.KeepDays == 0 {
		cfg.Retention.KeepDays = DefaultRetentionKeepDays
	}
}

func applyNotificationDefaults(cfg *NotificationsConfig) {
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = DefaultSMTPPort
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].Role == "" {
			cfg.Auth.APIKeys[i].Role = DefaultAPIKeyRole
		}
	}
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.TLS.ClientCAFile != "" && cfg.TLS.ClientAuth == "" {
		cfg.TLS.ClientAuth = DefaultTLSClientAuth
	}
	if cfg.TLS.ReloadInterval == 0 {
		cfg.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretEnvPrefix
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = DefaultSecretCacheTTL
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultAuditBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultAuditBufferSize
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultAuditWriteTimeout
	}
	if cfg.KeepDays == 0 {
		cfg.KeepDays = DefaultAuditKeepDays
	}
}
