package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"modelbench/gatekeeper/pkg/server/api"
)

// RecoveryMiddleware recovers from panics in handlers and returns a 500 response.
// The panic and stack are logged; clients only see a generic message.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
//
//	handler = RecoveryMiddleware(logger)(handler)
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "panic in handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				api.WriteMessage(w, http.StatusInternalServerError, "internal error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
