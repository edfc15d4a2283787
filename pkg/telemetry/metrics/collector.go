package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every Gatekeeper metric.
const Namespace = "gatekeeper"

// Collector owns the Prometheus registry of the process. Components register
// their own collectors through Registerer; the collector itself carries the HTTP
// and store breaker metrics.
type Collector struct {
	registry *prometheus.Registry
	http     *HTTPMetrics
}

// NewCollector creates a collector on registry, registering the Go runtime and
// process collectors. If registry is nil, a new one is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry: registry,
		http:     NewHTTPMetrics(registry),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Registerer returns the registry for components that register their own metrics.
func (c *Collector) Registerer() prometheus.Registerer {
	return c.registry
}

// HTTP returns the HTTP request metrics.
func (c *Collector) HTTP() *HTTPMetrics {
	return c.http
}

// RegisterBreaker exposes the state of a store circuit breaker as
// gatekeeper_store_breaker_open{store}, 1 while the breaker is open.
func (c *Collector) RegisterBreaker(store string, state func() string) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "store_breaker_open",
			Help:        "Whether the circuit breaker in front of a store is open",
			ConstLabels: prometheus.Labels{"store": store},
		},
		func() float64 {
			if state() == "open" {
				return 1
			}
			return 0
		},
	))
}

// RegisterCertificateExpiry exposes the serving certificate's NotAfter as
// gatekeeper_tls_certificate_expiry_timestamp_seconds.
func (c *Collector) RegisterCertificateExpiry(notAfter func() time.Time) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tls_certificate_expiry_timestamp_seconds",
			Help:      "Expiry of the TLS certificate served by the API as a Unix timestamp",
		},
		func() float64 {
			t := notAfter()
			if t.IsZero() {
				return 0
			}
			return float64(t.Unix())
		},
	))
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
