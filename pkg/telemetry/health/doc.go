// Package health provides liveness and readiness checks.
//
// Ledgers register as critical checks; a failing critical check turns readiness
// "unhealthy" and the readiness endpoint answers 503. Optional checks, such as the
// Redis config cache, only turn it "degraded".
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterPinger("ledger", backend)
//	checker.RegisterOptional("config_cache", cache.Ping)
//
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
//	r.Get("/version", health.VersionHandler(health.NewVersionInfo(version, commit, date)))
package health
