package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/limits"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// RetryAfterSeconds is set on every denial and mirrors the Retry-After header.
	RetryAfterSeconds *int64 `json:"retryAfterSeconds,omitempty"`

	// Kind tells a rate-limit denial from a budget denial.
	Kind string `json:"kind,omitempty"`
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// WriteError writes an error response with a status derived from err.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), ErrorResponse{Error: err.Error()})
}

// WriteMessage writes an error response with an explicit status.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// StatusFor maps errors from the limits packages to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, limits.ErrInvalidInput), errors.Is(err, audit.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, limits.ErrConfigMissing):
		return http.StatusNotFound
	case errors.Is(err, limits.ErrRateLimited), errors.Is(err, limits.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, limits.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SetDecisionHeaders sets X-RateLimit-* headers from a decision when it carries them.
func SetDecisionHeaders(w http.ResponseWriter, d *limits.AdmissionDecision) {
	h := w.Header()
	if d.Limit > 0 {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	}
	if d.Remaining != nil {
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(*d.Remaining, 10))
	}
	if d.ResetInSeconds != nil {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(*d.ResetInSeconds, 10))
	}
	if d.Warning != "" {
		h.Set("X-Gatekeeper-Warning", d.Warning)
	}
}

// WriteDenial writes the 429 response of a denied admission. A budget ledger outage
// that fails closed is not the caller's fault and is reported as 503. Both carry
// Retry-After and retryAfterSeconds.
func WriteDenial(w http.ResponseWriter, d *limits.AdmissionDecision) {
	status := http.StatusTooManyRequests
	if d.Kind == limits.KindLedgerUnavailable {
		status = http.StatusServiceUnavailable
	}
	if d.ResetInSeconds != nil {
		w.Header().Set("Retry-After", strconv.FormatInt(*d.ResetInSeconds, 10))
	}
	WriteJSON(w, status, ErrorResponse{
		Error:             d.Reason,
		RetryAfterSeconds: d.ResetInSeconds,
		Kind:              string(d.Kind),
	})
}
