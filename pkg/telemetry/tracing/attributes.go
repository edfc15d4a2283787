package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	HTTPMethod = attribute.Key("http.request.method")
	HTTPRoute  = attribute.Key("http.route")

	UserID      = attribute.Key("gatekeeper.user_id")
	Endpoint    = attribute.Key("gatekeeper.endpoint")
	Environment = attribute.Key("gatekeeper.environment")

	DecisionKind    = attribute.Key("gatekeeper.decision.kind")
	DecisionAllowed = attribute.Key("gatekeeper.decision.allowed")
	DecisionWarning = attribute.Key("gatekeeper.decision.warning")
	BudgetRatio     = attribute.Key("gatekeeper.budget.ratio_used")
)

// AdmissionAttributes returns the identity attributes of an admission call.
func AdmissionAttributes(userID, endpoint, environment string) []attribute.KeyValue {
	return []attribute.KeyValue{
		UserID.String(userID),
		Endpoint.String(endpoint),
		Environment.String(environment),
	}
}

// SetDecision records the outcome of an admission call on the span.
func SetDecision(span trace.Span, kind string, allowed bool, warning string) {
	attrs := []attribute.KeyValue{
		DecisionKind.String(kind),
		DecisionAllowed.Bool(allowed),
	}
	if warning != "" {
		attrs = append(attrs, DecisionWarning.String(warning))
	}
	span.SetAttributes(attrs...)
}
