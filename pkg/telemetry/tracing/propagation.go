package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Middleware extracts the W3C trace context of incoming requests and wraps each
// request in a server span. route maps a request to the span name after the
// handler ran; it usually returns the router pattern.
func (t *Tracer) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := t.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(HTTPMethod.String(r.Method)),
			)
			defer span.End()

			next.ServeHTTP(w, r.WithContext(ctx))

			if name := route(r); name != "" {
				span.SetName(r.Method + " " + name)
				span.SetAttributes(HTTPRoute.String(name))
			}
		})
	}
}
