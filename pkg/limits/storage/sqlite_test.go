package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"modelbench/gatekeeper/pkg/limits/money"
)

func TestSQLiteBackend_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persistence.db")
	ctx := context.Background()
	now := time.Now()
	period := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	budgetKey := BudgetKey{UserID: "persistent-user", Environment: Production, PeriodStart: period}

	backend1, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	if _, _, err := backend1.IncrementIfBelow(ctx, NewBucketKey("persistent-user", "chat", Production, now), 5); err != nil {
		t.Fatalf("IncrementIfBelow failed: %v", err)
	}
	limit := money.MustParse("42")
	if _, err := backend1.AddSpend(ctx, budgetKey, money.MustParse("1.25"), period, BudgetSettings{DailyLimit: &limit, AlertThreshold: 0.8}); err != nil {
		t.Fatalf("AddSpend failed: %v", err)
	}

	if err := backend1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	backend2, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen backend: %v", err)
	}
	defer backend2.Close()

	count, err := backend2.CountCalls(ctx, NewBucketKey("persistent-user", "chat", Production, now))
	if err != nil {
		t.Fatalf("CountCalls failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected persisted count 1, got %d", count)
	}

	rec, err := backend2.GetBudget(ctx, budgetKey)
	if err != nil {
		t.Fatalf("GetBudget failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected persisted budget, got nil")
	}
	if rec.CurrentSpending != money.MustParse("1.25") {
		t.Errorf("Expected spending 1.25, got %s", rec.CurrentSpending)
	}
	if rec.DailyLimit == nil || *rec.DailyLimit != limit {
		t.Errorf("Expected daily limit 42, got %v", rec.DailyLimit)
	}
	if rec.MonthlyBudget != nil {
		t.Errorf("Expected no monthly budget, got %s", rec.MonthlyBudget)
	}
}

func TestSQLiteBackend_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteBackend(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestSQLiteBackend_UnknownDriver(t *testing.T) {
	_, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Driver: "oracle",
	})
	if err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

// TestSQLiteBackend_CGODriver runs the contract on mattn/go-sqlite3 when cgo is available.
func TestSQLiteBackend_CGODriver(t *testing.T) {
	check, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath: filepath.Join(t.TempDir(), "check.db"),
		Driver: DriverCGO,
	})
	if err != nil {
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}
	check.Close()

	runBackendContract(t, func(t *testing.T) Backend {
		backend, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
			DBPath:             filepath.Join(t.TempDir(), "cgo.db"),
			Driver:             DriverCGO,
			CheckpointInterval: time.Hour,
		})
		if err != nil {
			t.Fatalf("Failed to create SQLite backend: %v", err)
		}
		t.Cleanup(func() { backend.Close() })
		return backend
	})
}

func TestSQLiteBackend_Close(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Double close should not panic
	if err := backend.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

// newTestSQLiteBackend creates a SQLite backend on a temporary database.
func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	backend, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:             filepath.Join(t.TempDir(), "test.db"),
		CheckpointInterval: time.Hour, // Disable checkpointing for most tests
		BusyTimeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	return backend
}
