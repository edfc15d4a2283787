// Package ratelimit implements fixed-window call limits per user, endpoint and environment.
//
// # Overview
//
// Calls are counted in one-minute buckets keyed by (user, endpoint, environment,
// window start). Each (environment, endpoint) pair has a LimitConfig with per-minute,
// per-hour and per-day maximums. Hour and day usage are the sums of the trailing 60 and
// 1440 minute buckets, current minute included.
//
//	limiter := ratelimit.NewLimiter(usageLedger, configStore)
//	decision, err := limiter.CheckAndConsume(ctx, "user-42", "run-comparison", storage.Sandbox)
//	if err != nil {
//	    // invalid input or ledger failure
//	}
//	if !decision.Allowed {
//	    // decision.Reason, *decision.ResetInSeconds
//	}
//
// # Windows
//
// Windows are fixed, not sliding: the per-minute limit resets exactly at the minute
// boundary, and a call made at the boundary belongs to the new window. A denied
// call reports the time until its window resets: the rest of the minute, the next
// clock hour, or midnight UTC.
//
// # Missing Configuration
//
// An endpoint without a LimitConfig is always admitted with reason "unconfigured".
//
// # Thread Safety
//
// Limiter is stateless and safe for concurrent use. The bucket increment is a single
// conditional upsert in the ledger, so concurrent calls never admit more than the limit.
package ratelimit
