// Package telemetry groups Gatekeeper's observability packages.
//
//   - logging: slog handlers with request-scoped fields and PII redaction
//   - metrics: the Prometheus registry, HTTP metrics and the /metrics handler
//   - tracing: OpenTelemetry tracing with OTLP export
//   - health: liveness and readiness checks
package telemetry
