// Package middleware provides the HTTP middleware of the Gatekeeper server.
//
// The server chains them as
//
//	Recovery → RequestID → Logging → handler
//
// so panics are always turned into a 500 and every log line of a request carries
// its request ID.
//
// # Admission
//
// Admission wraps a metered handler with the admission gate. The handler only runs
// for admitted calls:
//
//	r.With(middleware.Admission(gate, "run-comparison", middleware.HeaderIdentity)).
//	    Post("/v1/comparisons", compareHandler)
//
// Denied calls receive
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 45
//	X-RateLimit-Limit: 5
//	X-RateLimit-Remaining: 0
//	X-RateLimit-Reset: 45
//
//	{"error": "per-minute limit exceeded", "retryAfterSeconds": 45, "kind": "rate_limited"}
package middleware
