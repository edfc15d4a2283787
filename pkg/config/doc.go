// Package config provides configuration management for Gatekeeper.
//
// Configuration is loaded from a YAML file, filled with defaults, overridden from
// the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD.
// For example:
//
//   - GATEKEEPER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - GATEKEEPER_LIMITS_STORAGE_POSTGRES_DSN overrides limits.storage.postgres.dsn
//   - GATEKEEPER_NOTIFICATIONS_KAFKA_BROKERS takes a comma-separated list
//
// Environment variables always take precedence over file-based configuration.
//
// # Singleton Pattern
//
//	if err := config.Initialize("gatekeeper.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.GetConfig()
//
// # Validation
//
// Validation errors include field paths:
//
//	configuration validation failed with 2 errors:
//	  - limits.rate_limits[0].max_calls_per_minute: limit must be positive
//	  - limits.budgets.over_budget_action: invalid action "warn": must be 'block' or 'alert'
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	limits:
//	  rate_limits:
//	    - environment: production
//	      endpoint: run-comparison
//	      max_calls_per_minute: 10
//	      max_calls_per_hour: 200
//	      max_calls_per_day: 1000
//	  endpoints:
//	    run-comparison:
//	      cost_bearing: true
//	      estimated_cost: "0.05"
//	  budgets:
//	    default_monthly_budget: "100"
//	    over_budget_action: block
//	  storage:
//	    backend: sqlite
//	    sqlite:
//	      path: data/gatekeeper.db
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//	  metrics:
//	    enabled: true
//
// # Hot Reload
//
// With limits.watch set, a Watcher re-reads the file after it changes; the caller
// re-seeds rate limits and replaces endpoint profiles. A file that fails validation
// leaves the previous configuration in effect.
package config
