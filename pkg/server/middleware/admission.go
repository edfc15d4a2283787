package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/limits/storage"
	"modelbench/gatekeeper/pkg/server/api"
	"modelbench/gatekeeper/pkg/telemetry/logging"
)

// Identity headers read by HeaderIdentity.
const (
	UserIDHeader      = "X-User-ID"
	EnvironmentHeader = "X-Environment"
)

// IdentifyFunc extracts the caller of a metered request.
type IdentifyFunc func(r *http.Request) (userID string, env storage.Environment, err error)

// HeaderIdentity reads the user from X-User-ID and the environment from
// X-Environment. A missing environment means production.
func HeaderIdentity(r *http.Request) (string, storage.Environment, error) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		return "", "", fmt.Errorf("%w: missing %s header", storage.ErrInvalidInput, UserIDHeader)
	}

	envName := r.Header.Get(EnvironmentHeader)
	if envName == "" {
		return userID, storage.Production, nil
	}
	env, err := storage.ParseEnvironment(envName)
	if err != nil {
		return "", "", err
	}
	return userID, env, nil
}

// Admission runs the admission gate before a metered handler. Denied calls get a
// 429 (503 when the budget ledger is down) with Retry-After and never reach next. Admitted calls carry the rate limit
// headers and the caller's identity in the context.
//
//	r.With(middleware.Admission(gate, "run-comparison", nil)).Post("/v1/comparisons", compare)
func Admission(gate *limits.Gate, endpoint string, identify IdentifyFunc) func(http.Handler) http.Handler {
	if identify == nil {
		identify = HeaderIdentity
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, env, err := identify(r)
			if err != nil {
				api.WriteMessage(w, http.StatusBadRequest, err.Error())
				return
			}

			ctx := r.Context()
			decision, err := gate.Admit(ctx, userID, endpoint, env)
			if err != nil {
				var inv *limits.InvalidInputError
				if errors.As(err, &inv) {
					api.WriteMessage(w, http.StatusBadRequest, err.Error())
					return
				}
				slog.ErrorContext(ctx, "admission failed", "endpoint", endpoint, "error", err)
				api.WriteMessage(w, http.StatusInternalServerError, "admission check failed")
				return
			}

			api.SetDecisionHeaders(w, decision)
			if !decision.Allowed {
				api.WriteDenial(w, decision)
				return
			}

			ctx = logging.WithUser(ctx, userID)
			ctx = logging.WithEnvironment(ctx, string(env))
			ctx = logging.WithEndpoint(ctx, endpoint)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
