package config

import (
	"os"
	"testing"
)

func TestInitialize(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:8181\"\n")

	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Server.ListenAddress != "127.0.0.1:8181" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:8181", cfg.Server.ListenAddress)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	first := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:8181\"\n")
	second := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:8282\"\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second call should be ignored, got %v", err)
	}

	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:8181" {
		t.Errorf("expected first config to win, got %q", got)
	}
}

func TestGetConfig_BeforeInitialize(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	if cfg := GetConfig(); cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestSetConfig(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	cfg := Default()
	cfg.Limits.DryRun = true
	SetConfig(cfg)

	if got := GetConfig(); got != cfg {
		t.Error("expected SetConfig instance to be returned")
	}
}

func TestReloadConfig(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	path := writeConfig(t, "limits:\n  budgets:\n    over_budget_action: block\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	if err := os.WriteFile(path, []byte("limits:\n  budgets:\n    over_budget_action: alert\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	cfg, err := ReloadConfig()
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if cfg.Limits.Budgets.OverBudgetAction != "alert" {
		t.Errorf("expected reloaded action alert, got %q", cfg.Limits.Budgets.OverBudgetAction)
	}
	if GetConfig() != cfg {
		t.Error("expected global config to be replaced")
	}
}

func TestReloadConfig_ValidationFailure(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	path := writeConfig(t, "limits:\n  budgets:\n    over_budget_action: block\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	before := GetConfig()

	if err := os.WriteFile(path, []byte("limits:\n  budgets:\n    over_budget_action: warn\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	if _, err := ReloadConfig(); err == nil {
		t.Fatal("expected reload to fail")
	}
	if GetConfig() != before {
		t.Error("expected previous config to remain after failed reload")
	}
}

func TestMustGetConfig(t *testing.T) {
	resetForTesting()
	t.Cleanup(resetForTesting)

	defer func() {
		if recover() == nil {
			t.Error("expected panic before initialization")
		}
	}()
	MustGetConfig()
}
