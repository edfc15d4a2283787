package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"modelbench/gatekeeper/pkg/security/auth"
	"modelbench/gatekeeper/pkg/server/middleware"
	"modelbench/gatekeeper/pkg/telemetry/health"
)

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: recovery -> request id -> tracing -> metrics -> logging
	r.Use(middleware.RecoveryMiddleware(s.deps.Logger))
	r.Use(middleware.RequestIDMiddleware)
	if s.deps.Tracer != nil {
		r.Use(s.deps.Tracer.Middleware(routePattern))
	}
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.HTTP().Middleware(routePattern))
	}
	r.Use(middleware.LoggingMiddleware(s.deps.Logger))

	r.Get("/health", s.deps.Health.LivenessHandler())
	r.Get("/ready", s.deps.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.deps.Version))
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.deps.MetricsPath, s.deps.Metrics.Handler())
	}

	h := &handlers{gate: s.deps.Gate, logger: s.logger, maxBody: s.config.MaxBodyBytes}

	admin := func(r chi.Router) chi.Router { return r }
	if s.deps.Auth != nil {
		admin = func(r chi.Router) chi.Router { return r.With(s.deps.Auth.RequireRole(auth.RoleAdmin)) }
	}

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.Authenticate)
		}

		r.Post("/admission", h.admit)
		r.Post("/spend", h.recordSpend)

		r.Get("/budgets/{environment}/{userID}", h.getBudget)
		admin(r).Put("/budgets/{environment}/{userID}", h.putBudget)

		r.Get("/limits", h.listLimits)
		r.Get("/limits/{environment}/{endpoint}", h.getLimit)
		admin(r).Put("/limits/{environment}/{endpoint}", h.putLimit)
		admin(r).Delete("/limits/{environment}/{endpoint}", h.deleteLimit)

		r.Get("/usage/{environment}/{userID}/{endpoint}", h.getUsage)

		if s.deps.Audit != nil {
			ah := &auditHandlers{store: s.deps.Audit, fail: h.fail}
			admin(r).Get("/audit", ah.list)
		}
	})

	return r
}

// routePattern returns the matched chi pattern, e.g. "/v1/limits/{environment}/{endpoint}".
// It is only complete after the router ran, so middleware calls it after next.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
