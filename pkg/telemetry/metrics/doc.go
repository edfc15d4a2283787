// Package metrics owns the Prometheus registry and exposes the /metrics handler.
//
// Admission metrics (gatekeeper_admission_decisions_total and friends) are defined
// by pkg/limits and registered through Collector.Registerer. This package adds
// HTTP request metrics, store breaker gauges and the Go runtime collectors.
//
//	collector := metrics.NewCollector(nil)
//	gateMetrics := limits.NewMetrics(collector.Registerer())
//	r.Use(collector.HTTP().Middleware(routePattern))
//	r.Handle("/metrics", collector.Handler())
package metrics
