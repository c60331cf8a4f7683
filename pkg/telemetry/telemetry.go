// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// DNS resolution metrics
	DNSQueriesTotal     metric.Int64Counter
	DNSQueriesByStatus  metric.Int64Counter
	DNSQueryDuration    metric.Float64Histogram
	DNSBlockedQueries   metric.Int64Counter
	DNSForwardedQueries metric.Int64Counter
	UpstreamFailures    metric.Int64Counter

	// Classification pipeline metrics
	QueueOffers           metric.Int64Counter
	ClassificationsTotal  metric.Int64Counter
	FetchFailures         metric.Int64Counter
	ModerationFailures    metric.Int64Counter
	ClassificationLatency metric.Float64Histogram

	// Storage metrics
	StorageLogsDropped metric.Int64Counter
	LogAppendFailures  metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:           cfg,
			meterProvider: noop.NewMeterProvider(),
			logger:        logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

// setupMetrics initializes the metrics provider
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if t.cfg.PrometheusEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		t.prometheusExporter = exporter

		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)

		t.meterProvider = provider
		otel.SetMeterProvider(provider)

		if err := t.startPrometheusServer(); err != nil {
			return fmt.Errorf("failed to start prometheus server: %w", err)
		}

		t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	} else {
		t.meterProvider = noop.NewMeterProvider()
	}

	return nil
}

// startPrometheusServer starts the Prometheus metrics HTTP server
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("dns-warden")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queriesByStatus, err := meter.Int64Counter(
		"dns.queries.by_status",
		metric.WithDescription("DNS queries by resolution status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries by status counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	blockedQueries, err := meter.Int64Counter(
		"dns.queries.blocked",
		metric.WithDescription("Number of blocked DNS queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked queries counter: %w", err)
	}

	forwardedQueries, err := meter.Int64Counter(
		"dns.queries.forwarded",
		metric.WithDescription("Number of forwarded DNS queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarded queries counter: %w", err)
	}

	upstreamFailures, err := meter.Int64Counter(
		"dns.upstream.failures",
		metric.WithDescription("Number of failed upstream exchanges"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream failures counter: %w", err)
	}

	queueOffers, err := meter.Int64Counter(
		"classifier.queue.offers",
		metric.WithDescription("Classification queue offers by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue offers counter: %w", err)
	}

	classificationsTotal, err := meter.Int64Counter(
		"classifier.classifications.total",
		metric.WithDescription("Completed domain classifications by verdict"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifications counter: %w", err)
	}

	fetchFailures, err := meter.Int64Counter(
		"classifier.fetch.failures",
		metric.WithDescription("Number of site fetches that yielded no text"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch failures counter: %w", err)
	}

	moderationFailures, err := meter.Int64Counter(
		"classifier.moderation.failures",
		metric.WithDescription("Number of failed moderation requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation failures counter: %w", err)
	}

	classificationLatency, err := meter.Float64Histogram(
		"classifier.classification.duration",
		metric.WithDescription("End-to-end classification duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification duration histogram: %w", err)
	}

	logsDropped, err := meter.Int64Counter(
		"storage.logs.dropped",
		metric.WithDescription("Number of domain log rows dropped due to a full buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped logs counter: %w", err)
	}

	logAppendFailures, err := meter.Int64Counter(
		"storage.logs.append_failures",
		metric.WithDescription("Number of domain log appends that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log append failures counter: %w", err)
	}

	return &Metrics{
		DNSQueriesTotal:       queriesTotal,
		DNSQueriesByStatus:    queriesByStatus,
		DNSQueryDuration:      queryDuration,
		DNSBlockedQueries:     blockedQueries,
		DNSForwardedQueries:   forwardedQueries,
		UpstreamFailures:      upstreamFailures,
		QueueOffers:           queueOffers,
		ClassificationsTotal:  classificationsTotal,
		FetchFailures:         fetchFailures,
		ModerationFailures:    moderationFailures,
		ClassificationLatency: classificationLatency,
		StorageLogsDropped:    logsDropped,
		LogAppendFailures:     logAppendFailures,
	}, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// AddDroppedLog implements storage.MetricsRecorder.
// This allows Metrics to be passed to storage without creating import cycles.
func (m *Metrics) AddDroppedLog(ctx context.Context, count int64) {
	if m != nil && m.StorageLogsDropped != nil {
		m.StorageLogsDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
