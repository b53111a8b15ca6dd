// Package obs centralises the OpenTelemetry wiring: a Prometheus
// exporter backing the global meter provider and a shared tracer for
// the router's long-running operations (netDb lookups, tunnel
// builds). Handlers scrape the exporter through promhttp.
package obs

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// InitMeterProvider installs a Prometheus-backed global meter
// provider. This intentionally sets the global provider so libraries
// that discover it implicitly work without explicit injection.
func InitMeterProvider() error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}
	otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(exporter)))
	return nil
}

// Tracer returns the router-wide tracer. With no tracer provider
// configured this is a no-op tracer, so instrumented paths cost
// nothing in the default deployment.
func Tracer() trace.Tracer {
	return otel.Tracer("kovri")
}
