// Package api defines the JSON bodies of the Gatekeeper HTTP API and the helpers
// that write them.
//
// Every error response has the shape
//
//	{"error": "per-minute limit exceeded", "retryAfterSeconds": 45, "kind": "rate_limited"}
//
// where retryAfterSeconds and kind are only present on admission denials.
package api
