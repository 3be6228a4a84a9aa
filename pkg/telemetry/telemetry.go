// Package telemetry wires the gateway's metrics: connect attempts/retries,
// dispatcher fan-out, and cursor/capability cache evictions, exported via
// OpenTelemetry's Prometheus exporter. This is metrics, not a logging
// transport, so it is carried even though SPEC_FULL.md's Non-goals exclude
// shipping logs to a remote sink.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the instruments the rest of the gateway records against.
type Telemetry struct {
	provider *sdkmetric.MeterProvider

	OutboundConnects  metric.Int64Counter
	OutboundRetries   metric.Int64Counter
	OutboundErrors    metric.Int64Counter
	DispatchFanout    metric.Int64Counter
	DispatchRetries   metric.Int64Counter
	DispatchLatencyMS metric.Float64Histogram
	CacheEvictions    metric.Int64Counter
}

// Init builds the MeterProvider (Prometheus exporter) and every counter the
// gateway records against. The exporter registers with Prometheus's default
// registry; callers expose it (promhttp.Handler()) on whatever mux serves
// /metrics.
func Init(meterName string) (*Telemetry, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	t := &Telemetry{provider: provider}

	if t.OutboundConnects, err = meter.Int64Counter("gateway_outbound_connects_total",
		metric.WithDescription("successful outbound connections")); err != nil {
		return nil, err
	}
	if t.OutboundRetries, err = meter.Int64Counter("gateway_outbound_retries_total",
		metric.WithDescription("outbound connect retries")); err != nil {
		return nil, err
	}
	if t.OutboundErrors, err = meter.Int64Counter("gateway_outbound_errors_total",
		metric.WithDescription("outbound connections that ended in Error status")); err != nil {
		return nil, err
	}
	if t.DispatchFanout, err = meter.Int64Counter("gateway_dispatch_fanout_requests_total",
		metric.WithDescription("per-outbound sub-requests issued by list fan-out")); err != nil {
		return nil, err
	}
	if t.DispatchRetries, err = meter.Int64Counter("gateway_dispatch_retries_total",
		metric.WithDescription("dispatcher per-request retries")); err != nil {
		return nil, err
	}
	if t.DispatchLatencyMS, err = meter.Float64Histogram("gateway_dispatch_latency_ms",
		metric.WithDescription("per-outbound dispatch latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if t.CacheEvictions, err = meter.Int64Counter("gateway_cache_evictions_total",
		metric.WithDescription("capability/session cache evictions")); err != nil {
		return nil, err
	}
	return t, nil
}

// Shutdown flushes and stops the underlying MeterProvider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
