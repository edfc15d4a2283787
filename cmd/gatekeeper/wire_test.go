package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/config"
	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/notify"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/security/auth"
	"modelbench/gatekeeper/pkg/telemetry/logging"
)

func testApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Limits.Storage.Backend = "memory"
	cfg.Limits.RateLimits = []config.RateLimitRule{{
		Environment:       "production",
		Endpoint:          "run-comparison",
		MaxCallsPerMinute: 2,
		MaxCallsPerHour:   10,
		MaxCallsPerDay:    100,
	}}
	if mutate != nil {
		mutate(cfg)
	}

	logger, err := logging.New(logging.Config{Level: "debug", Format: "text", Writer: io.Discard})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	a, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	if err := a.seedLimits(context.Background()); err != nil {
		t.Fatalf("seedLimits failed: %v", err)
	}
	return a
}

func TestBuildApp_Memory(t *testing.T) {
	a := testApp(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := a.gate.Admit(ctx, "user-42", "run-comparison", storage.Production)
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !d.Allowed || d.Kind != limits.KindAdmitted {
			t.Fatalf("call %d: expected admitted, got %+v", i+1, d)
		}
	}
	d, err := a.gate.Admit(ctx, "user-42", "run-comparison", storage.Production)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected third call to be rate limited, got %+v", d)
	}

	status := a.checker.CheckReadiness(ctx)
	if !status.Ready() {
		t.Errorf("expected ready, got %+v", status)
	}
	if _, ok := status.Checks["ledger"]; !ok {
		t.Errorf("expected ledger check, got %v", status.Checks)
	}

	if n, err := testutil.GatherAndCount(a.collector.Registry(), "gatekeeper_store_breaker_open"); err != nil || n != 3 {
		t.Errorf("expected 3 breaker gauges, got %d (%v)", n, err)
	}
	if n, err := testutil.GatherAndCount(a.collector.Registry(), "gatekeeper_admission_decisions_total"); err != nil || n == 0 {
		t.Errorf("expected admission metrics on the collector registry, got %d (%v)", n, err)
	}

	if a.pruner != nil {
		t.Error("expected no pruner when retention is disabled")
	}
}

func TestBuildApp_SQLite(t *testing.T) {
	dir := t.TempDir()
	a := testApp(t, func(c *config.Config) {
		c.Limits.Storage.Backend = "sqlite"
		c.Limits.Storage.SQLite.Path = filepath.Join(dir, "gatekeeper.db")
		c.Limits.Retention.Enabled = true
	})

	cfgs, err := a.configs.ListLimitConfigs(context.Background())
	if err != nil {
		t.Fatalf("ListLimitConfigs failed: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Endpoint != "run-comparison" {
		t.Errorf("expected seeded rule, got %+v", cfgs)
	}
	if a.pruner == nil {
		t.Error("expected pruner when retention is enabled")
	}
}

func TestOpenBackend_Unsupported(t *testing.T) {
	if _, err := openBackend(config.LimitsStorageConfig{Backend: "mysql"}); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestBuildNotifier(t *testing.T) {
	a := testApp(t, nil)

	n, err := a.buildNotifier(config.NotificationsConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("buildNotifier failed: %v", err)
	}
	if multi, ok := n.(notify.Multi); !ok || len(multi) != 1 {
		t.Errorf("expected only the log notifier, got %#v", n)
	}

	n, err = a.buildNotifier(config.NotificationsConfig{
		Email: config.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, From: "alerts@example.com"},
	}, slog.Default())
	if err != nil {
		t.Fatalf("buildNotifier failed: %v", err)
	}
	if multi, ok := n.(notify.Multi); !ok || len(multi) != 2 {
		t.Errorf("expected log and email notifiers, got %#v", n)
	}
}

func TestApplyReload(t *testing.T) {
	a := testApp(t, nil)
	ctx := context.Background()

	reloaded := config.Default()
	reloaded.Limits.Storage.Backend = "memory"
	reloaded.Telemetry.Logging.Level = "error"
	reloaded.Limits.RateLimits = []config.RateLimitRule{{
		Environment:       "sandbox",
		Endpoint:          "export",
		MaxCallsPerMinute: 1,
		MaxCallsPerHour:   1,
		MaxCallsPerDay:    1,
	}}
	reloaded.Limits.Endpoints = map[string]config.EndpointConfig{
		"export": {CostBearing: true, EstimatedCost: "2.50"},
	}

	if err := a.applyReload(ctx, reloaded); err != nil {
		t.Fatalf("applyReload failed: %v", err)
	}

	if ep := a.gate.Endpoint("export"); !ep.CostBearing {
		t.Errorf("expected export to be cost-bearing after reload, got %+v", ep)
	}
	got, err := a.configs.GetLimitConfig(ctx, storage.Sandbox, "export")
	if err != nil || got == nil {
		t.Fatalf("expected reloaded rule, got %v, %v", got, err)
	}
	if a.logger.Level() != slog.LevelError {
		t.Errorf("expected log level error, got %v", a.logger.Level())
	}
	if a.cfg != reloaded {
		t.Error("expected app config to be replaced")
	}
}

func TestApp_CloseIdempotent(t *testing.T) {
	a := testApp(t, nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBuildApp_ResolvesSecrets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ops-key"), []byte("admin-from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEKEEPER_SECRET_RUNNER_KEY", "service-from-env")

	a := testApp(t, func(c *config.Config) {
		c.Security.Secrets.Directory = dir
		c.Security.Auth.Enabled = true
		c.Security.Auth.APIKeys = []config.APIKeyConfig{
			{Name: "runner", Key: "${secret:runner-key}", Role: "service"},
			{Name: "ops", Key: "${secret:ops-key}", Role: "admin"},
		}
	})

	if a.auth == nil || a.keys == nil {
		t.Fatal("expected auth to be built")
	}
	if p, err := a.keys.Validate("service-from-env"); err != nil || p.Name != "runner" {
		t.Errorf("env secret not resolved: %v, %v", p, err)
	}
	if p, err := a.keys.Validate("admin-from-file"); err != nil || p.Role != auth.RoleAdmin {
		t.Errorf("file secret not resolved: %v, %v", p, err)
	}
}

func TestBuildApp_UnresolvedSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.Storage.Backend = "memory"
	cfg.Limits.Storage.Redis.Password = "${secret:missing-redis-password}"

	logger, err := logging.New(logging.Config{Level: "error", Format: "text", Writer: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildApp(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected error for unresolved secret")
	}
}

func TestApplyReload_RotatesKeys(t *testing.T) {
	a := testApp(t, func(c *config.Config) {
		c.Security.Auth.Enabled = true
		c.Security.Auth.APIKeys = []config.APIKeyConfig{{Name: "runner", Key: "old", Role: "service"}}
	})

	reloaded := config.Default()
	reloaded.Limits.Storage.Backend = "memory"
	reloaded.Security.Auth.Enabled = true
	reloaded.Security.Auth.APIKeys = []config.APIKeyConfig{{Name: "runner", Key: "new", Role: "service"}}

	if err := a.applyReload(context.Background(), reloaded); err != nil {
		t.Fatalf("applyReload failed: %v", err)
	}
	if _, err := a.keys.Validate("old"); err == nil {
		t.Error("old key should be rejected after reload")
	}
	if _, err := a.keys.Validate("new"); err != nil {
		t.Errorf("new key rejected: %v", err)
	}
}

func TestBuildTLS_Disabled(t *testing.T) {
	a := testApp(t, nil)
	tlsCfg, err := a.buildTLS(context.Background(), config.TLSConfig{})
	if err != nil || tlsCfg != nil {
		t.Errorf("expected nil config when disabled, got %v, %v", tlsCfg, err)
	}
}

func TestBuildTLS_MissingFiles(t *testing.T) {
	a := testApp(t, nil)
	dir := t.TempDir()
	_, err := a.buildTLS(context.Background(), config.TLSConfig{
		Enabled:  true,
		CertFile: filepath.Join(dir, "tls.crt"),
		KeyFile:  filepath.Join(dir, "tls.key"),
	})
	if err == nil {
		t.Error("expected error for missing certificate files")
	}
}

func TestBuildApp_Audit(t *testing.T) {
	a := testApp(t, func(c *config.Config) {
		c.Audit.Enabled = true
		c.Audit.Backend = "memory"
		c.Limits.Retention.Enabled = true
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.gate.Admit(ctx, "user-42", "run-comparison", storage.Production); err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
	}
	a.recorder.Close()

	denied := false
	n, err := a.audit.Count(ctx, &audit.Query{Allowed: &denied})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 || a.recorder.Written() != 3 {
		t.Errorf("expected 3 records with 1 denial, got %d written, %d denied", a.recorder.Written(), n)
	}

	status := a.checker.CheckReadiness(ctx)
	if _, ok := status.Checks["audit"]; !ok {
		t.Errorf("expected audit check, got %v", status.Checks)
	}

	deleted, err := a.pruner.Prune(ctx)
	if err != nil || deleted != 0 {
		t.Errorf("expected nothing pruned, got %d, %v", deleted, err)
	}
}

func TestBuildApp_AuditDisabled(t *testing.T) {
	a := testApp(t, nil)
	if a.audit != nil || a.recorder != nil {
		t.Error("expected no audit trail when disabled")
	}
}

func TestOpenAuditStore(t *testing.T) {
	cfg := config.AuditConfig{Backend: "sqlite", SQLite: config.AuditSQLiteConfig{
		Path:   filepath.Join(t.TempDir(), "audit.db"),
		Driver: "sqlite",
	}}
	store, err := openAuditStore(cfg, slog.Default())
	if err != nil {
		t.Fatalf("openAuditStore failed: %v", err)
	}
	store.Close()

	if _, err := openAuditStore(config.AuditConfig{Backend: "postgres"}, slog.Default()); err == nil {
		t.Error("expected error for unsupported backend")
	}
}
