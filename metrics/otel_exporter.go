package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/marcelsud/webhook-outbox/notify"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
// It also records delivery attempts and broadcasts as they happen
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector
	gatherer      promclient.Gatherer

	// OTel meters and instruments
	meter               metric.Meter
	statusCountGauge    metric.Int64ObservableGauge
	dueBacklogGauge     metric.Int64ObservableGauge
	clientsGauge        metric.Int64ObservableGauge
	activeInstanceGauge metric.Int64ObservableGauge
	attemptCounter      metric.Int64Counter
	attemptDuration     metric.Float64Histogram
	broadcastCounter    metric.Int64Counter
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
// A nil registry uses the Prometheus default registry
func NewOTelExporter(collector Collector, registry *promclient.Registry) (*OTelExporter, error) {
	var registerer promclient.Registerer = promclient.DefaultRegisterer
	var gatherer promclient.Gatherer = promclient.DefaultGatherer
	if registry != nil {
		registerer, gatherer = registry, registry
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"webhook-outbox",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		gatherer:      gatherer,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Status count gauge (per status)
	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.status.count",
		metric.WithDescription("Number of webhook events by status"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	// Due backlog gauge
	oe.dueBacklogGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.due.backlog",
		metric.WithDescription("Number of webhook events due for delivery"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observeDueBacklog),
	)
	if err != nil {
		return fmt.Errorf("creating due backlog gauge: %w", err)
	}

	// Connected admin sessions
	oe.clientsGauge, err = oe.meter.Int64ObservableGauge(
		"notify.clients.connected",
		metric.WithDescription("Number of admin sessions on the notification stream"),
		metric.WithUnit("{sessions}"),
		metric.WithInt64Callback(oe.observeClients),
	)
	if err != nil {
		return fmt.Errorf("creating clients gauge: %w", err)
	}

	// Active scheduler instances
	oe.activeInstanceGauge, err = oe.meter.Int64ObservableGauge(
		"scheduler.instances.active",
		metric.WithDescription("Number of scheduler instances with a live heartbeat"),
		metric.WithUnit("{instances}"),
		metric.WithInt64Callback(oe.observeActiveInstances),
	)
	if err != nil {
		return fmt.Errorf("creating active instances gauge: %w", err)
	}

	oe.attemptCounter, err = oe.meter.Int64Counter(
		"webhook.delivery.attempts",
		metric.WithDescription("Delivery attempts by subscription and outcome"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return fmt.Errorf("creating attempt counter: %w", err)
	}

	oe.attemptDuration, err = oe.meter.Float64Histogram(
		"webhook.delivery.duration",
		metric.WithDescription("Duration of delivery requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating attempt duration histogram: %w", err)
	}

	oe.broadcastCounter, err = oe.meter.Int64Counter(
		"notify.broadcast.frames",
		metric.WithDescription("Frames written to admin sessions by type and result"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		return fmt.Errorf("creating broadcast counter: %w", err)
	}

	return nil
}

// observeStatusCounts is a callback that reports event counts by status
func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.GetStatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("webhook.status", status),
		))
	}

	return nil
}

// observeDueBacklog is a callback that reports the due backlog
func (oe *OTelExporter) observeDueBacklog(ctx context.Context, observer metric.Int64Observer) error {
	backlog, err := oe.collector.GetDueBacklog(ctx)
	if err != nil {
		return err
	}
	observer.Observe(backlog)
	return nil
}

// observeClients is a callback that reports connected admin sessions
func (oe *OTelExporter) observeClients(ctx context.Context, observer metric.Int64Observer) error {
	clients, err := oe.collector.GetConnectedClients(ctx)
	if err != nil {
		return err
	}
	observer.Observe(clients)
	return nil
}

// observeActiveInstances is a callback that reports live scheduler instances
func (oe *OTelExporter) observeActiveInstances(ctx context.Context, observer metric.Int64Observer) error {
	instances, err := oe.collector.GetActiveInstances(ctx)
	if err != nil {
		return err
	}
	observer.Observe(int64(len(instances)))
	return nil
}

// RecordAttempt counts one delivery attempt and its duration
func (oe *OTelExporter) RecordAttempt(ctx context.Context, subscriptionID, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("subscription.id", subscriptionID),
		attribute.String("outcome", outcome),
	)
	oe.attemptCounter.Add(ctx, 1, attrs)
	oe.attemptDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBroadcast counts frames written and dropped by one broadcast
func (oe *OTelExporter) RecordBroadcast(ctx context.Context, frameType string, result notify.BroadcastResult) {
	if result.SuccessCount > 0 {
		oe.broadcastCounter.Add(ctx, int64(result.SuccessCount), metric.WithAttributes(
			attribute.String("frame.type", frameType),
			attribute.String("result", "success"),
		))
	}
	if result.FailCount > 0 {
		oe.broadcastCounter.Add(ctx, int64(result.FailCount), metric.WithAttributes(
			attribute.String("frame.type", frameType),
			attribute.String("result", "failed"),
		))
	}
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.HandlerFor(oe.gatherer, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
