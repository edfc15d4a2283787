// Package server provides the Gatekeeper HTTP server.
//
// It exposes the admission gate, spend recording and the administration of limit
// configurations and budgets as a JSON API routed with chi, next to the
// operational endpoints.
//
// # Routes
//
//	POST   /v1/admission                             admission decision for one call
//	POST   /v1/spend                                 record the actual cost of a call
//	GET    /v1/budgets/{environment}/{userID}        budget record and status
//	PUT    /v1/budgets/{environment}/{userID}        update budget settings
//	GET    /v1/limits                                list limit configurations
//	GET    /v1/limits/{environment}/{endpoint}       read one limit configuration
//	PUT    /v1/limits/{environment}/{endpoint}       create or replace it
//	DELETE /v1/limits/{environment}/{endpoint}       delete it
//	GET    /v1/usage/{environment}/{userID}/{endpoint}  current usage against limits
//	GET    /health, /ready, /version, /metrics
//
// A denied admission returns 429 with Retry-After and a body telling rate limit
// denials from budget denials:
//
//	{"error": "monthly budget exhausted", "retryAfterSeconds": 1728000, "kind": "budget_exceeded"}
//
// A call failed closed because the budget ledger is unreachable returns 503 with the
// same body, kind "ledger_unavailable" and limits.budgets.outage_retry_after as the
// retry hint.
//
// # Usage
//
//	srv := server.NewServer(cfg.Server, server.Deps{
//	    Gate:    gate,
//	    Health:  checker,
//	    Metrics: collector,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// Start blocks until ctx is cancelled and then shuts down gracefully within
// server.shutdown_timeout.
package server
