package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/server/api"
)

type handlers struct {
	gate    *limits.Gate
	logger  *slog.Logger
	maxBody int64
}

// decode reads a JSON body into dst. Unknown fields are rejected.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

// fail writes err, logging it when it is not the caller's fault.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	api.WriteJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func pathEnvironment(r *http.Request) (storage.Environment, error) {
	return storage.ParseEnvironment(chi.URLParam(r, "environment"))
}

// admit handles POST /v1/admission.
func (h *handlers) admit(w http.ResponseWriter, r *http.Request) {
	var req api.AdmissionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	env, err := storage.ParseEnvironment(req.Environment)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	decision, err := h.gate.Admit(r.Context(), req.UserID, req.Endpoint, env)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	api.SetDecisionHeaders(w, decision)
	if !decision.Allowed {
		api.WriteDenial(w, decision)
		return
	}
	api.WriteJSON(w, http.StatusOK, decision)
}

// recordSpend handles POST /v1/spend.
func (h *handlers) recordSpend(w http.ResponseWriter, r *http.Request) {
	var req api.SpendRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	env, err := storage.ParseEnvironment(req.Environment)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status, err := h.gate.RecordSpend(r.Context(), req.UserID, env, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

// getBudget handles GET /v1/budgets/{environment}/{userID}.
func (h *handlers) getBudget(w http.ResponseWriter, r *http.Request) {
	env, err := pathEnvironment(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeBudget(w, r, chi.URLParam(r, "userID"), env)
}

// putBudget handles PUT /v1/budgets/{environment}/{userID}. Spending is never
// changed through this endpoint.
func (h *handlers) putBudget(w http.ResponseWriter, r *http.Request) {
	env, err := pathEnvironment(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var settings storage.BudgetSettings
	if err := h.decode(w, r, &settings); err != nil {
		h.fail(w, r, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	if _, err := h.gate.Budgets().UpdateSettings(r.Context(), userID, env, settings); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeBudget(w, r, userID, env)
}

func (h *handlers) writeBudget(w http.ResponseWriter, r *http.Request, userID string, env storage.Environment) {
	enforcer := h.gate.Budgets()
	rec, err := enforcer.GetRecord(r.Context(), userID, env)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := enforcer.CheckBudget(r.Context(), userID, env)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.BudgetResponse{Record: rec, Status: status})
}

// listLimits handles GET /v1/limits.
func (h *handlers) listLimits(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.gate.Configs().ListLimitConfigs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cfgs == nil {
		cfgs = []storage.LimitConfig{}
	}
	api.WriteJSON(w, http.StatusOK, api.LimitsResponse{Limits: cfgs})
}

// getLimit handles GET /v1/limits/{environment}/{endpoint}.
func (h *handlers) getLimit(w http.ResponseWriter, r *http.Request) {
	env, err := pathEnvironment(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	endpoint := chi.URLParam(r, "endpoint")

	cfg, err := h.gate.Configs().GetLimitConfig(r.Context(), env, endpoint)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cfg == nil {
		h.fail(w, r, fmt.Errorf("%w: %s/%s", limits.ErrConfigMissing, env, endpoint))
		return
	}
	api.WriteJSON(w, http.StatusOK, cfg)
}

// putLimit handles PUT /v1/limits/{environment}/{endpoint}.
func (h *handlers) putLimit(w http.ResponseWriter, r *http.Request) {
	env, err := pathEnvironment(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req api.LimitRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	cfg := storage.LimitConfig{
		Environment:       env,
		Endpoint:          chi.URLParam(r, "endpoint"),
		MaxCallsPerMinute: req.MaxCallsPerMinute,
		MaxCallsPerHour:   req.MaxCallsPerHour,
		MaxCallsPerDay:    req.MaxCallsPerDay,
	}
	if err := cfg.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.gate.Configs().PutLimitConfig(r.Context(), cfg); err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "limit config updated",
		"environment", env,
		"endpoint", cfg.Endpoint,
		"per_minute", cfg.MaxCallsPerMinute,
		"per_hour", cfg.MaxCallsPerHour,
		"per_day", cfg.MaxCallsPerDay,
	)
	api.WriteJSON(w, http.StatusOK, cfg)
}

// deleteLimit handles DELETE /v1/limits/{environment}/{endpoint}.
func (h *handlers) deleteLimit(w http.ResponseWriter, r *http.Request) {
	env, err := pathEnvironment(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	endpoint := chi.URLParam(r, "endpoint")

	deleted, err := h.gate.Configs().DeleteLimitConfig(r.Context(), env, endpoint)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !deleted {
		h.fail(w, r, fmt.Errorf("%w: %s/%s", limits.ErrConfigMissing, env, endpoint))
		return
	}
	h.logger.InfoContext(r.Context(), "limit config deleted", "environment", env, "endpoint", endpoint)
	w.WriteHeader(http.StatusNoContent)
}

// getUsage handles GET /v1/usage/{environment}/{userID}/{endpoint}.
func (h *handlers) getUsage(w http.ResponseWriter, r *http.Request) {
	env, err := pathEnvironment(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	snap, err := h.gate.Limiter().Usage(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "endpoint"), env)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, snap)
}
