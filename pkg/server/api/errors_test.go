package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"modelbench/gatekeeper/pkg/limits"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad: %w", limits.ErrInvalidInput), http.StatusBadRequest},
		{limits.ErrConfigMissing, http.StatusNotFound},
		{limits.ErrRateLimited, http.StatusTooManyRequests},
		{limits.ErrBudgetExceeded, http.StatusTooManyRequests},
		{fmt.Errorf("store: %w", limits.ErrLedgerUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteDenial(t *testing.T) {
	reset := int64(45)
	remaining := int64(0)
	d := &limits.AdmissionDecision{
		Allowed:        false,
		Reason:         "per-minute limit exceeded",
		Remaining:      &remaining,
		ResetInSeconds: &reset,
		Kind:           limits.KindRateLimited,
		Limit:          5,
	}

	w := httptest.NewRecorder()
	SetDecisionHeaders(w, d)
	WriteDenial(w, d)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "45" {
		t.Errorf("Retry-After = %q, want 45", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != "rate_limited" || body.RetryAfterSeconds == nil || *body.RetryAfterSeconds != 45 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteDenial_LedgerUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteDenial(w, &limits.AdmissionDecision{Reason: "budget ledger unavailable", Kind: limits.KindLedgerUnavailable})

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") != "" {
		t.Error("expected no Retry-After without a reset time")
	}
}
