package logging

import "context"

type contextKey string

// Context keys for request-scoped log fields.
const (
	RequestIDKey   contextKey = "request_id"
	UserKey        contextKey = "user_id"
	EnvironmentKey contextKey = "environment"
	EndpointKey    contextKey = "endpoint"
)

// contextFields lists the keys attached to records logged with a context, in output order.
var contextFields = []contextKey{RequestIDKey, UserKey, EnvironmentKey, EndpointKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserKey, userID)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	return getString(ctx, UserKey)
}

// WithEnvironment adds the admission environment to the context.
func WithEnvironment(ctx context.Context, env string) context.Context {
	return context.WithValue(ctx, EnvironmentKey, env)
}

// GetEnvironment retrieves the admission environment from the context.
func GetEnvironment(ctx context.Context) string {
	return getString(ctx, EnvironmentKey)
}

// WithEndpoint adds the metered endpoint name to the context.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, EndpointKey, endpoint)
}

// GetEndpoint retrieves the metered endpoint name from the context.
func GetEndpoint(ctx context.Context) string {
	return getString(ctx, EndpointKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields returns the request-scoped fields of ctx as key-value pairs.
func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, key := range contextFields {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
