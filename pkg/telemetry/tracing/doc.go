// Package tracing sets up OpenTelemetry tracing with an OTLP gRPC exporter.
//
// New installs the provider and the W3C trace-context propagator globally; the
// admission gate creates its spans through otel.Tracer and therefore needs no
// handle to the Tracer. Middleware continues traces from incoming traceparent
// headers.
//
//	tracer, err := tracing.New(tracing.Config{
//	    Enabled:  true,
//	    Endpoint: "localhost:4317",
//	    Insecure: true,
//	})
//	defer tracer.Shutdown(context.Background())
//
//	r.Use(tracer.Middleware(routePattern))
package tracing
