package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/audit/recorder"
	auditstorage "modelbench/gatekeeper/pkg/audit/storage"
	"modelbench/gatekeeper/pkg/config"
	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/notify"
	"modelbench/gatekeeper/pkg/limits/retention"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/security/auth"
	"modelbench/gatekeeper/pkg/security/secrets"
	"modelbench/gatekeeper/pkg/telemetry/health"
	"modelbench/gatekeeper/pkg/telemetry/logging"
	"modelbench/gatekeeper/pkg/telemetry/metrics"
	"modelbench/gatekeeper/pkg/telemetry/tracing"
)

// app holds every component built from one configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	gate      *limits.Gate
	configs   storage.LimitConfigStore
	usage     storage.UsageLedger
	checker   *health.Checker
	collector *metrics.Collector
	tracer    *tracing.Tracer
	pruner    *retention.Pruner
	secrets   *secrets.Manager
	keys      *auth.KeyStore
	auth      *auth.Middleware
	audit     audit.Storage
	recorder  *recorder.Recorder

	closers []func() error
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		RedactPII: cfg.RedactPII,
		Writer:    os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.Slog())
	return logger, nil
}

// buildApp opens the stores and assembles the admission gate. The returned app
// must be closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (a *app, err error) {
	a = &app{
		cfg:       cfg,
		logger:    logger,
		checker:   health.New(cfg.Telemetry.Health.CheckTimeout),
		collector: metrics.NewCollector(nil),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	slogger := logger.Slog()

	a.secrets, err = newSecretManager(cfg.Security.Secrets, slogger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.secrets.Close)
	if err := resolveSecrets(ctx, a.secrets, cfg); err != nil {
		return nil, err
	}
	if err := a.buildAuth(cfg.Security.Auth); err != nil {
		return nil, err
	}

	storageCfg := cfg.Limits.Storage

	backend, err := openBackend(storageCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, backend.Close)
	a.checker.RegisterPinger("ledger", backend)

	var usage storage.UsageLedger = backend
	var configs storage.LimitConfigStore = backend

	var client *redis.Client
	if storageCfg.UsageBackend == "redis" || storageCfg.ConfigCache.Enabled {
		opts := redisOptions(storageCfg.Redis)
		client, err = storage.NewRedisClient(ctx, opts)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)

		if storageCfg.UsageBackend == "redis" {
			redisUsage := storage.NewRedisUsageLedger(client, opts)
			usage = redisUsage
			a.checker.RegisterPinger("usage_ledger", redisUsage)
		}
		if storageCfg.ConfigCache.Enabled {
			configs = storage.NewCachedConfigStore(configs, client, opts.KeyPrefix, storageCfg.ConfigCache.TTL, slogger)
			a.checker.RegisterOptional("config_cache", func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
		}
	}

	usageGuard := a.newGuard("usage", storageCfg)
	budgetGuard := a.newGuard("budget", storageCfg)
	configGuard := a.newGuard("config", storageCfg)

	a.usage = storage.GuardUsageLedger(usage, usageGuard)
	a.configs = storage.GuardConfigStore(configs, configGuard)
	budgets := storage.GuardBudgetLedger(backend, budgetGuard)

	notifier, err := a.buildNotifier(cfg.Notifications, slogger)
	if err != nil {
		return nil, err
	}

	var decisions limits.DecisionRecorder
	if cfg.Audit.Enabled {
		a.audit, err = openAuditStore(cfg.Audit, slogger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.audit.Close)
		a.checker.RegisterOptional("audit", a.audit.Ping)

		a.recorder = recorder.New(a.audit, recorder.Config{
			BufferSize:   cfg.Audit.BufferSize,
			WriteTimeout: cfg.Audit.WriteTimeout,
			Logger:       slogger,
		})
		a.closers = append(a.closers, a.recorder.Close)
		decisions = a.recorder
	}

	endpoints, err := cfg.Limits.EndpointProfiles()
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint profiles: %w", err)
	}
	defaults, err := cfg.Limits.Budgets.Defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid budget defaults: %w", err)
	}
	enforcementCfg, err := cfg.Limits.Budgets.Enforcement()
	if err != nil {
		return nil, fmt.Errorf("invalid enforcement config: %w", err)
	}

	a.gate = limits.NewGate(limits.Config{
		Usage:          a.usage,
		Configs:        a.configs,
		Budgets:        budgets,
		Notifier:       notifier,
		Endpoints:      endpoints,
		Enforcement:    enforcementCfg,
		BudgetDefaults: defaults,
		NotifyTimeout:  cfg.Limits.Budgets.NotifyTimeout,
		DryRun:         cfg.Limits.DryRun,
		Recorder:       decisions,
		Metrics:        limits.NewMetrics(a.collector.Registerer()),
		Logger:         slogger,
	})

	if cfg.Limits.Retention.Enabled {
		a.pruner = retention.NewPruner(a.usage, &retention.Config{
			KeepDays: cfg.Limits.Retention.KeepDays,
			Schedule: cfg.Limits.Retention.Schedule,
		})
		if a.audit != nil {
			a.pruner.AddTarget(retention.Target{
				Name:     "audit",
				KeepDays: cfg.Audit.KeepDays,
				Prune:    a.audit.DeleteBefore,
			})
		}
	}

	return a, nil
}

func openBackend(cfg config.LimitsStorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "sqlite":
		return storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:             cfg.SQLite.Path,
			Driver:             cfg.SQLite.Driver,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
	case "postgres":
		return storage.NewPostgresBackend(storage.PostgresBackendConfig{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// openAuditStore opens the audit trail backend.
func openAuditStore(cfg config.AuditConfig, logger *slog.Logger) (audit.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return auditstorage.NewMemoryStorage(), nil
	case "sqlite":
		s, err := auditstorage.NewSQLiteStorage(auditstorage.SQLiteConfig{
			Path:   cfg.SQLite.Path,
			Driver: cfg.SQLite.Driver,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}
}

func redisOptions(cfg config.LimitsRedisConfig) storage.RedisOptions {
	return storage.RedisOptions{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
	}
}

// newGuard creates the breaker of one store and exposes its state as a metric.
func (a *app) newGuard(name string, cfg config.LimitsStorageConfig) *storage.Guard {
	g := storage.NewGuard(name, storage.GuardConfig{
		Timeout:          cfg.Timeout,
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		OpenTimeout:      cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Logger:           a.logger.Slog(),
	})
	if err := a.collector.RegisterBreaker(name, g.State); err != nil {
		a.logger.Warn("failed to register breaker metric", "store", name, "error", err)
	}
	return g
}

// buildNotifier always logs alerts and adds Kafka and email when configured.
func (a *app) buildNotifier(cfg config.NotificationsConfig, logger *slog.Logger) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka notifier: %w", err)
		}
		a.closers = append(a.closers, kafka.Close)
		notifiers = append(notifiers, kafka)
	}

	if cfg.Email.SMTPHost != "" {
		email, err := notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create email notifier: %w", err)
		}
		notifiers = append(notifiers, email)
	}

	return notifiers, nil
}

// startTracing installs the tracer. It is separate from buildApp because only
// the server exports spans.
func (a *app) startTracing(cfg config.TracingConfig) error {
	tracer, err := tracing.New(tracing.Config{
		Enabled:        cfg.Enabled,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		Sampler:        cfg.Sampler,
		SampleRatio:    cfg.SampleRatio,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
		defer cancel()
		return tracer.Shutdown(ctx)
	})
	return nil
}

// seedLimits writes the configured rate limit rules into the config store.
func (a *app) seedLimits(ctx context.Context) error {
	n, err := config.SeedLimits(ctx, a.configs, &a.cfg.Limits)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Info("limit configs seeded", "count", n)
	}
	return nil
}

// applyReload re-seeds limits and swaps endpoint profiles, API keys and the log
// level from a reloaded configuration. Storage, TLS and notification changes
// need a restart.
func (a *app) applyReload(ctx context.Context, cfg *config.Config) error {
	endpoints, err := cfg.Limits.EndpointProfiles()
	if err != nil {
		return err
	}
	if err := a.reloadKeys(ctx, cfg); err != nil {
		return err
	}
	if _, err := config.SeedLimits(ctx, a.configs, &cfg.Limits); err != nil {
		return err
	}
	a.gate.SetEndpoints(endpoints)
	if err := a.logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger.Info("configuration reloaded",
		"rate_limits", len(cfg.Limits.RateLimits),
		"endpoints", len(endpoints),
	)
	return nil
}

// Close releases every resource in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
