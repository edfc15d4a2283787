package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// KeySource defines where to extract API keys from.
type KeySource struct {
	Type   string // header, query
	Name   string // Header name or query param
	Scheme string // "Bearer", etc. (optional)
}

// DefaultSources accepts "Authorization: Bearer <key>" and "X-API-Key: <key>".
var DefaultSources = []KeySource{
	{Type: "header", Name: "Authorization", Scheme: "Bearer"},
	{Type: "header", Name: "X-API-Key"},
}

// ErrorWriter writes an authentication failure.
type ErrorWriter func(w http.ResponseWriter, status int, msg string)

// Middleware authenticates requests against a Validator.
type Middleware struct {
	validator Validator
	sources   []KeySource
	logger    *slog.Logger

	// WriteError defaults to a JSON {"error": msg} body.
	WriteError ErrorWriter
}

// NewMiddleware creates authentication middleware.
func NewMiddleware(validator Validator, sources []KeySource, logger *slog.Logger) *Middleware {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		validator:  validator,
		sources:    sources,
		logger:     logger.With("component", "auth"),
		WriteError: writeJSONError,
	}
}

// Authenticate rejects requests without a valid key with 401 and stores the
// principal in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.validator.Validate(m.extractKey(r))
		if err != nil {
			m.logger.Warn("authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			msg := "invalid API key"
			if errors.Is(err, ErrMissingKey) {
				msg = "missing API key"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
			m.WriteError(w, http.StatusUnauthorized, msg)
			return
		}

		m.logger.Debug("API key authenticated", "principal", principal.Name, "role", principal.Role, "path", r.URL.Path)

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole returns middleware that rejects principals lacking role with 403.
// It must run after Authenticate.
func (m *Middleware) RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok || !p.Role.Allows(role) {
				name := ""
				if ok {
					name = p.Name
				}
				m.logger.Warn("insufficient role", "principal", name, "required", role, "path", r.URL.Path)
				m.WriteError(w, http.StatusForbidden, "requires "+string(role)+" role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) extractKey(r *http.Request) string {
	for _, source := range m.sources {
		switch source.Type {
		case "header":
			value := r.Header.Get(source.Name)
			if value == "" {
				continue
			}
			if source.Scheme == "" {
				return value
			}
			if key, ok := strings.CutPrefix(value, source.Scheme+" "); ok {
				return key
			}

		case "query":
			if value := r.URL.Query().Get(source.Name); value != "" {
				return value
			}
		}
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type contextKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
