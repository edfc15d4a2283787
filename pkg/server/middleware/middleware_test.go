package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/server/api"
	"modelbench/gatekeeper/pkg/telemetry/logging"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		got := w.Header().Get(RequestIDHeader)
		if len(got) != 36 {
			t.Errorf("expected a UUID, got %q", got)
		}
		if seen != got {
			t.Errorf("context request ID = %q, header = %q", seen, got)
		}
	})

	t.Run("uses provided request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "custom-request-id-12345")
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != "custom-request-id-12345" {
			t.Errorf("Request ID = %v, want custom-request-id-12345", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); len(got) != 36 {
			t.Errorf("expected a generated UUID, got %q", got)
		}
	})

	t.Run("generates unique IDs for different requests", func(t *testing.T) {
		w1 := httptest.NewRecorder()
		wrapped.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/test", nil))
		w2 := httptest.NewRecorder()
		wrapped.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w1.Header().Get(RequestIDHeader) == w2.Header().Get(RequestIDHeader) {
			t.Error("Request IDs should be unique")
		}
	})
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/limits", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARN" || entry["status"] != float64(http.StatusTeapot) || entry["path"] != "/v1/limits" {
		t.Errorf("unexpected log entry: %v", entry)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("recovers from panic", func(t *testing.T) {
		wrapped := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusInternalServerError)
		}
		var body api.ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
			t.Errorf("expected JSON error body, got %q", w.Body.String())
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		wrapped := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		}))
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusOK || w.Body.String() != "OK" {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("re-panics abort handler", func(t *testing.T) {
		wrapped := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		defer func() {
			if recover() != http.ErrAbortHandler {
				t.Error("expected http.ErrAbortHandler to propagate")
			}
		}()
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}

func TestHeaderIdentity(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		env     string
		wantEnv storage.Environment
		wantErr bool
	}{
		{"defaults to production", "user-1", "", storage.Production, false},
		{"explicit sandbox", "user-1", "sandbox", storage.Sandbox, false},
		{"missing user", "", "sandbox", "", true},
		{"unknown environment", "user-1", "staging", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.user != "" {
				req.Header.Set(UserIDHeader, tt.user)
			}
			if tt.env != "" {
				req.Header.Set(EnvironmentHeader, tt.env)
			}

			_, env, err := HeaderIdentity(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if env != tt.wantEnv {
				t.Errorf("env = %q, want %q", env, tt.wantEnv)
			}
		})
	}
}

func TestAdmission(t *testing.T) {
	backend := storage.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })
	err := backend.PutLimitConfig(context.Background(), storage.LimitConfig{
		Environment:       storage.Sandbox,
		Endpoint:          "run-comparison",
		MaxCallsPerMinute: 1,
		MaxCallsPerHour:   10,
		MaxCallsPerDay:    100,
	})
	if err != nil {
		t.Fatalf("PutLimitConfig: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 30, 15, 0, time.UTC)
	gate := limits.NewGate(limits.Config{
		Usage:   backend,
		Configs: backend,
		Budgets: backend,
		Now:     func() time.Time { return now },
	})

	calls := 0
	handler := Admission(gate, "run-comparison", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if logging.GetUser(r.Context()) != "user-1" {
			t.Errorf("expected user in context, got %q", logging.GetUser(r.Context()))
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/comparisons", nil)
		if user != "" {
			req.Header.Set(UserIDHeader, user)
		}
		req.Header.Set(EnvironmentHeader, "sandbox")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := send("user-1")
	if first.Code != http.StatusNoContent {
		t.Fatalf("first call: status %d, want 204", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("unexpected rate limit headers: %v", first.Header())
	}

	second := send("user-1")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: status %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on denial")
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(second.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != string(limits.KindRateLimited) || body.RetryAfterSeconds == nil {
		t.Errorf("unexpected denial body %+v", body)
	}
	if *body.RetryAfterSeconds != 45 {
		t.Errorf("retryAfterSeconds = %d, want 45", *body.RetryAfterSeconds)
	}

	if missing := send(""); missing.Code != http.StatusBadRequest {
		t.Errorf("missing user: status %d, want 400", missing.Code)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}
