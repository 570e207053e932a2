package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests, machine boots and dispatches take
// - Traffic: Request/dispatch throughput
// - Errors: Rate of failures by stage
// - Saturation: Machines in flight and event queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Dispatch metrics (Latency, Traffic, Errors)
	DispatchDuration metric.Float64Histogram
	DispatchesTotal  metric.Int64Counter

	// Machine metrics (Latency, Saturation)
	MachineStartDuration metric.Float64Histogram
	MachinesCreated      metric.Int64Counter
	MachinesActive       metric.Int64UpDownCounter
	MachinesReaped       metric.Int64Counter

	// Lifecycle event delivery metrics (Latency, Traffic, Errors, Saturation)
	EventDuration  metric.Float64Histogram
	EventDelivered metric.Int64Counter
	EventFailed    metric.Int64Counter
	EventDropped   metric.Int64Counter
	EventRequeued  metric.Int64Counter
	EventQueueSize metric.Int64Gauge
}

// NewMetrics creates all metrics behind a Prometheus exporter with its own
// registry and returns the handler serving it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("videorelay")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 300, 900),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatch metrics
	m.DispatchDuration, err = meter.Float64Histogram(
		"dispatch_duration_seconds",
		metric.WithDescription("End-to-end dispatch duration from create to result in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchesTotal, err = meter.Int64Counter(
		"dispatches_total",
		metric.WithDescription("Total dispatches by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Machine metrics
	m.MachineStartDuration, err = meter.Float64Histogram(
		"machine_start_duration_seconds",
		metric.WithDescription("Time from machine creation to ready in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 20, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.MachinesCreated, err = meter.Int64Counter(
		"machines_created_total",
		metric.WithDescription("Total machines created"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.MachinesActive, err = meter.Int64UpDownCounter(
		"machines_active",
		metric.WithDescription("Number of machines currently in flight (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.MachinesReaped, err = meter.Int64Counter(
		"machines_reaped_total",
		metric.WithDescription("Total leaked machines stopped by the reaper"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Event delivery metrics
	m.EventDuration, err = meter.Float64Histogram(
		"event_delivery_duration_seconds",
		metric.WithDescription("Lifecycle event delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventDelivered, err = meter.Int64Counter(
		"events_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventFailed, err = meter.Int64Counter(
		"events_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventDropped, err = meter.Int64Counter(
		"events_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventRequeued, err = meter.Int64Counter(
		"events_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventQueueSize, err = meter.Int64Gauge(
		"events_queue_size",
		metric.WithDescription("Current number of events waiting for delivery (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics. route should be the matched
// route pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(route),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordMachineCreated records a machine entering flight.
func (m *Metrics) RecordMachineCreated(ctx context.Context, provider string) {
	attrs := metric.WithAttributes(providerAttr(provider))
	m.MachinesCreated.Add(ctx, 1, attrs)
	m.MachinesActive.Add(ctx, 1, attrs)
}

// RecordMachineReady records how long a machine took to become ready.
func (m *Metrics) RecordMachineReady(ctx context.Context, provider string, durationSeconds float64) {
	m.MachineStartDuration.Record(ctx, durationSeconds, metric.WithAttributes(providerAttr(provider)))
}

// RecordMachineReleased records a machine leaving flight.
func (m *Metrics) RecordMachineReleased(ctx context.Context, provider string) {
	m.MachinesActive.Add(ctx, -1, metric.WithAttributes(providerAttr(provider)))
}

// RecordMachinesReaped records leaked machines stopped by the reaper.
func (m *Metrics) RecordMachinesReaped(ctx context.Context, count int) {
	if count > 0 {
		m.MachinesReaped.Add(ctx, int64(count))
	}
}

// RecordDispatch records a finished dispatch with its outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.DispatchesTotal.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, durationSeconds, attrs)
}

// RecordEventDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordEventDelivered(ctx context.Context, durationSeconds float64) {
	m.EventDelivered.Add(ctx, 1)
	m.EventDuration.Record(ctx, durationSeconds)
}

// RecordEventFailed records a failed event delivery.
func (m *Metrics) RecordEventFailed(ctx context.Context) {
	m.EventFailed.Add(ctx, 1)
}

// RecordEventDropped records a dropped event.
func (m *Metrics) RecordEventDropped(ctx context.Context) {
	m.EventDropped.Add(ctx, 1)
}

// RecordEventRequeued records a requeued event.
func (m *Metrics) RecordEventRequeued(ctx context.Context) {
	m.EventRequeued.Add(ctx, 1)
}

// RecordEventQueueSize records the current queue size.
func (m *Metrics) RecordEventQueueSize(ctx context.Context, size int64) {
	m.EventQueueSize.Record(ctx, size)
}
