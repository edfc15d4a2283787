package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration holding only default values.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path starts from defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numbers and durations are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Limits overrides
	envBool("LIMITS_DRY_RUN", &cfg.Limits.DryRun)
	envBool("LIMITS_WATCH", &cfg.Limits.Watch)
	envString("LIMITS_BUDGETS_DEFAULT_MONTHLY_BUDGET", &cfg.Limits.Budgets.DefaultMonthlyBudget)
	envString("LIMITS_BUDGETS_DEFAULT_DAILY_LIMIT", &cfg.Limits.Budgets.DefaultDailyLimit)
	if val := os.Getenv(EnvPrefix + "LIMITS_BUDGETS_ALERT_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Limits.Budgets.AlertThreshold = f
		}
	}
	envString("LIMITS_BUDGETS_OVER_BUDGET_ACTION", &cfg.Limits.Budgets.OverBudgetAction)
	envString("LIMITS_BUDGETS_FAIL_CLOSED_ABOVE", &cfg.Limits.Budgets.FailClosedAbove)
	envDuration("LIMITS_BUDGETS_OUTAGE_RETRY_AFTER", &cfg.Limits.Budgets.OutageRetryAfter)

	envString("LIMITS_STORAGE_BACKEND", &cfg.Limits.Storage.Backend)
	envString("LIMITS_STORAGE_USAGE_BACKEND", &cfg.Limits.Storage.UsageBackend)
	envDuration("LIMITS_STORAGE_TIMEOUT", &cfg.Limits.Storage.Timeout)
	envString("LIMITS_STORAGE_SQLITE_PATH", &cfg.Limits.Storage.SQLite.Path)
	envString("LIMITS_STORAGE_SQLITE_DRIVER", &cfg.Limits.Storage.SQLite.Driver)
	envString("LIMITS_STORAGE_POSTGRES_DSN", &cfg.Limits.Storage.Postgres.DSN)
	envString("LIMITS_STORAGE_REDIS_ADDR", &cfg.Limits.Storage.Redis.Addr)
	envString("LIMITS_STORAGE_REDIS_PASSWORD", &cfg.Limits.Storage.Redis.Password)
	if val := os.Getenv(EnvPrefix + "LIMITS_STORAGE_REDIS_DB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.Storage.Redis.DB = n
		}
	}
	envBool("LIMITS_STORAGE_CONFIG_CACHE_ENABLED", &cfg.Limits.Storage.ConfigCache.Enabled)

	envBool("LIMITS_RETENTION_ENABLED", &cfg.Limits.Retention.Enabled)
	envString("LIMITS_RETENTION_SCHEDULE", &cfg.Limits.Retention.Schedule)
	if val := os.Getenv(EnvPrefix + "LIMITS_RETENTION_KEEP_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.Retention.KeepDays = n
		}
	}

	// Notification overrides
	if val := os.Getenv(EnvPrefix + "NOTIFICATIONS_KAFKA_BROKERS"); val != "" {
		var brokers []string
		for _, b := range strings.Split(val, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Notifications.Kafka.Brokers = brokers
	}
	envString("NOTIFICATIONS_KAFKA_TOPIC", &cfg.Notifications.Kafka.Topic)
	envString("NOTIFICATIONS_EMAIL_SMTP_HOST", &cfg.Notifications.Email.SMTPHost)
	envString("NOTIFICATIONS_EMAIL_USERNAME", &cfg.Notifications.Email.Username)
	envString("NOTIFICATIONS_EMAIL_PASSWORD", &cfg.Notifications.Email.Password)
	envString("NOTIFICATIONS_EMAIL_FROM", &cfg.Notifications.Email.From)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envBool("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)

	// Security overrides
	envBool("SECURITY_AUTH_ENABLED", &cfg.Security.Auth.Enabled)
	envBool("SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	envString("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
	envString("SECURITY_TLS_MIN_VERSION", &cfg.Security.TLS.MinVersion)
	envString("SECURITY_TLS_CLIENT_CA_FILE", &cfg.Security.TLS.ClientCAFile)
	envString("SECURITY_SECRETS_DIRECTORY", &cfg.Security.Secrets.Directory)

	// Audit overrides
	envBool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	envString("AUDIT_BACKEND", &cfg.Audit.Backend)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	if val := os.Getenv(EnvPrefix + "AUDIT_KEEP_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Audit.KeepDays = n
		}
	}
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
