package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/storage"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateNotifications(&cfg.Notifications)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout cannot be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout cannot be negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout cannot be negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout cannot be negative"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes cannot be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes cannot be negative"})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	seen := make(map[string]int, len(cfg.RateLimits))
	for i, rule := range cfg.RateLimits {
		prefix := fmt.Sprintf("limits.rate_limits[%d]", i)
		errs = append(errs, validateRateLimitRule(prefix, rule)...)

		key := rule.Environment + "/" + rule.Endpoint
		if first, dup := seen[key]; dup {
			errs = append(errs, FieldError{
				Field:   prefix,
				Message: fmt.Sprintf("duplicate rule for %s (first defined at index %d)", key, first),
			})
		} else {
			seen[key] = i
		}
	}

	for name, ep := range cfg.Endpoints {
		prefix := fmt.Sprintf("limits.endpoints.%s", name)
		if err := storage.ValidateIdentifier("endpoint", name); err != nil {
			errs = append(errs, FieldError{Field: prefix, Message: err.Error()})
		}
		if ep.EstimatedCost != "" {
			if amount, err := money.Parse(ep.EstimatedCost); err != nil {
				errs = append(errs, FieldError{Field: prefix + ".estimated_cost", Message: err.Error()})
			} else if amount.IsNegative() {
				errs = append(errs, FieldError{Field: prefix + ".estimated_cost", Message: "estimated cost cannot be negative"})
			}
		}
	}

	errs = append(errs, validateBudgets(&cfg.Budgets)...)
	errs = append(errs, validateLimitsStorage(&cfg.Storage)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)

	return errs
}

func validateRateLimitRule(prefix string, rule RateLimitRule) []FieldError {
	var errs []FieldError

	if _, err := storage.ParseEnvironment(rule.Environment); err != nil {
		errs = append(errs, FieldError{
			Field:   prefix + ".environment",
			Message: fmt.Sprintf("invalid environment %q: must be 'sandbox' or 'production'", rule.Environment),
		})
	}
	if err := storage.ValidateIdentifier("endpoint", rule.Endpoint); err != nil {
		errs = append(errs, FieldError{Field: prefix + ".endpoint", Message: err.Error()})
	}

	limits := []struct {
		field string
		value int64
	}{
		{"max_calls_per_minute", rule.MaxCallsPerMinute},
		{"max_calls_per_hour", rule.MaxCallsPerHour},
		{"max_calls_per_day", rule.MaxCallsPerDay},
	}
	for _, l := range limits {
		if l.value <= 0 {
			errs = append(errs, FieldError{
				Field:   prefix + "." + l.field,
				Message: "limit must be positive",
			})
		}
	}

	return errs
}

func validateBudgets(cfg *BudgetsConfig) []FieldError {
	var errs []FieldError

	amounts := []struct {
		field string
		value string
	}{
		{"limits.budgets.default_monthly_budget", cfg.DefaultMonthlyBudget},
		{"limits.budgets.default_daily_limit", cfg.DefaultDailyLimit},
		{"limits.budgets.fail_closed_above", cfg.FailClosedAbove},
	}
	for _, a := range amounts {
		if a.value == "" {
			continue
		}
		amount, err := money.Parse(a.value)
		if err != nil {
			errs = append(errs, FieldError{Field: a.field, Message: err.Error()})
			continue
		}
		if amount.IsNegative() {
			errs = append(errs, FieldError{Field: a.field, Message: "amount cannot be negative"})
		}
	}

	if cfg.AlertThreshold < 0.0 || cfg.AlertThreshold > 1.0 {
		errs = append(errs, FieldError{
			Field:   "limits.budgets.alert_threshold",
			Message: "alert threshold must be between 0.0 and 1.0",
		})
	}

	switch cfg.OverBudgetAction {
	case "block", "alert":
	default:
		errs = append(errs, FieldError{
			Field:   "limits.budgets.over_budget_action",
			Message: fmt.Sprintf("invalid action %q: must be 'block' or 'alert'", cfg.OverBudgetAction),
		})
	}

	if cfg.OutageRetryAfter < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.budgets.outage_retry_after",
			Message: "outage retry after cannot be negative",
		})
	}

	if cfg.NotifyTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.budgets.notify_timeout",
			Message: "notify timeout cannot be negative",
		})
	}

	return errs
}

func validateLimitsStorage(cfg *LimitsStorageConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if cfg.Backend == "" {
		errs = append(errs, FieldError{
			Field:   "limits.storage.backend",
			Message: "backend is required",
		})
	} else if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "limits.storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite' or 'postgres'", cfg.Backend),
		})
	}

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "limits.storage.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "limits.storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.CheckpointInterval < 0 {
			errs = append(errs, FieldError{
				Field:   "limits.storage.sqlite.checkpoint_interval",
				Message: "checkpoint interval must be positive",
			})
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "limits.storage.postgres.dsn",
				Message: "DSN is required when backend is 'postgres'",
			})
		}
		if cfg.Postgres.MaxIdleConns > cfg.Postgres.MaxOpenConns {
			errs = append(errs, FieldError{
				Field:   "limits.storage.postgres.max_idle_conns",
				Message: "max idle connections cannot exceed max open connections",
			})
		}
	}

	switch cfg.UsageBackend {
	case "", "redis":
	default:
		errs = append(errs, FieldError{
			Field:   "limits.storage.usage_backend",
			Message: fmt.Sprintf("invalid usage backend %q: must be empty or 'redis'", cfg.UsageBackend),
		})
	}

	if (cfg.UsageBackend == "redis" || cfg.ConfigCache.Enabled) && cfg.Redis.Addr == "" {
		errs = append(errs, FieldError{
			Field:   "limits.storage.redis.addr",
			Message: "Redis address is required when Redis is used",
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.storage.timeout",
			Message: "timeout must be positive",
		})
	}

	if cfg.Breaker.FailureThreshold == 0 {
		errs = append(errs, FieldError{
			Field:   "limits.storage.breaker.failure_threshold",
			Message: "failure threshold must be positive",
		})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.KeepDays < 2 {
		errs = append(errs, FieldError{
			Field:   "limits.retention.keep_days",
			Message: "usage buckets must be kept for at least 2 days",
		})
	}

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.retention.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
		})
	}

	return errs
}

func validateNotifications(cfg *NotificationsConfig) []FieldError {
	var errs []FieldError

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		errs = append(errs, FieldError{
			Field:   "notifications.kafka.topic",
			Message: "topic is required when brokers are configured",
		})
	}

	if cfg.Email.SMTPHost != "" {
		if !strings.Contains(cfg.Email.From, "@") {
			errs = append(errs, FieldError{
				Field:   "notifications.email.from",
				Message: "sender address is required when SMTP is configured",
			})
		}
		if cfg.Email.SMTPPort <= 0 || cfg.Email.SMTPPort > 65535 {
			errs = append(errs, FieldError{
				Field:   "notifications.email.smtp_port",
				Message: fmt.Sprintf("invalid port %d", cfg.Email.SMTPPort),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout cannot be negative",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0 and 1",
		})
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		errs = append(errs, FieldError{
			Field:   "security.auth.api_keys",
			Message: "at least one API key is required when auth is enabled",
		})
	}
	names := make(map[string]bool, len(cfg.Auth.APIKeys))
	for i, k := range cfg.Auth.APIKeys {
		prefix := fmt.Sprintf("security.auth.api_keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "name is required"})
		} else if names[k.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate key name %q", k.Name)})
		}
		names[k.Name] = true
		if k.Key == "" {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "key is required"})
		}
		switch k.Role {
		case "", "service", "admin":
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".role",
				Message: fmt.Sprintf("invalid role %q: must be 'service' or 'admin'", k.Role),
			})
		}
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.cert_file", Message: "certificate file is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.key_file", Message: "key file is required when TLS is enabled"})
		}
	}
	switch cfg.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{
			Field:   "security.tls.min_version",
			Message: fmt.Sprintf("invalid TLS version %q: must be '1.2' or '1.3'", cfg.TLS.MinVersion),
		})
	}
	switch cfg.TLS.ClientAuth {
	case "", "require", "verify_if_given":
	default:
		errs = append(errs, FieldError{
			Field:   "security.tls.client_auth",
			Message: fmt.Sprintf("invalid client auth %q: must be 'require' or 'verify_if_given'", cfg.TLS.ClientAuth),
		})
	}
	if cfg.TLS.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "security.tls.reload_interval", Message: "reload interval cannot be negative"})
	}

	if cfg.Secrets.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "security.secrets.cache_ttl", Message: "cache TTL cannot be negative"})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "path is required for the sqlite backend"})
		}
		switch cfg.SQLite.Driver {
		case "sqlite", "sqlite3":
		default:
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.BufferSize < 0 {
		errs = append(errs, FieldError{Field: "audit.buffer_size", Message: "buffer size cannot be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "audit.write_timeout", Message: "write timeout cannot be negative"})
	}
	if cfg.KeepDays < 0 {
		errs = append(errs, FieldError{Field: "audit.keep_days", Message: "keep days cannot be negative"})
	}

	return errs
}
