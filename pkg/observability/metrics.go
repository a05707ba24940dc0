package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics and Prometheus integration
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	// Application metrics
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	cycleExecutions      metric.Int64Counter
	cycleDuration        metric.Float64Histogram
	llmRequestsTotal     metric.Int64Counter
	llmRequestDuration   metric.Float64Histogram
	activeBotsGauge      metric.Int64UpDownCounter
	signalsTotal         metric.Int64Counter
	circuitBreakerOpen   metric.Float64Gauge
	cacheHitsTotal       metric.Int64Counter
	cacheMissesTotal     metric.Int64Counter
	engineQueueDepth     metric.Float64Gauge
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Port           int
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	// Create Prometheus registry
	registry := prometheus.NewRegistry()

	// Create Prometheus exporter
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	// Create resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	// Set global meter provider
	otel.SetMeterProvider(meterProvider)

	// Create meter
	meter := meterProvider.Meter(cfg.ServiceName)

	// Initialize metrics
	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

// initializeMetrics creates all application metrics
func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	// HTTP metrics
	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	mp.httpRequestDuration, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	// Pipeline cycle metrics
	mp.cycleExecutions, err = mp.meter.Int64Counter(
		"papertrader_cycle_executions_total",
		metric.WithDescription("Total number of signal pipeline cycles executed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_cycle_executions_total counter: %w", err)
	}

	mp.cycleDuration, err = mp.meter.Float64Histogram(
		"papertrader_cycle_duration_seconds",
		metric.WithDescription("Signal pipeline cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_cycle_duration histogram: %w", err)
	}

	// LLM client metrics
	mp.llmRequestsTotal, err = mp.meter.Int64Counter(
		"papertrader_llm_requests_total",
		metric.WithDescription("Total number of LLM validation/fallback requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_llm_requests_total counter: %w", err)
	}

	mp.llmRequestDuration, err = mp.meter.Float64Histogram(
		"papertrader_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_llm_request_duration histogram: %w", err)
	}

	// Scheduler metrics
	mp.activeBotsGauge, err = mp.meter.Int64UpDownCounter(
		"papertrader_active_bots",
		metric.WithDescription("Number of bots currently registered with the scheduler"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_active_bots gauge: %w", err)
	}

	// Signal metrics
	mp.signalsTotal, err = mp.meter.Int64Counter(
		"papertrader_signals_total",
		metric.WithDescription("Total number of signals persisted, by status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_signals_total counter: %w", err)
	}

	// Circuit breaker gauge
	mp.circuitBreakerOpen, err = mp.meter.Float64Gauge(
		"papertrader_circuit_breaker_open",
		metric.WithDescription("1 when the LLM client circuit breaker is open, else 0"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_circuit_breaker_open gauge: %w", err)
	}

	// Market-data cache metrics
	mp.cacheHitsTotal, err = mp.meter.Int64Counter(
		"papertrader_cache_hits_total",
		metric.WithDescription("Total market-data cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_cache_hits_total counter: %w", err)
	}

	mp.cacheMissesTotal, err = mp.meter.Int64Counter(
		"papertrader_cache_misses_total",
		metric.WithDescription("Total market-data cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_cache_misses_total counter: %w", err)
	}

	// Native engine queue depth
	mp.engineQueueDepth, err = mp.meter.Float64Gauge(
		"papertrader_engine_queue_depth",
		metric.WithDescription("Number of callers waiting for the native engine semaphore"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create papertrader_engine_queue_depth gauge: %w", err)
	}

	return nil
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request metric
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	}

	mp.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// Pipeline Cycle Metrics Methods

// RecordCycleExecution records a completed signal pipeline cycle.
func (mp *MetricsProvider) RecordCycleExecution(ctx context.Context, callerType, status string, duration time.Duration) {
	if mp.cycleExecutions == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("caller_type", callerType),
		attribute.String("status", status),
	}

	mp.cycleExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// LLM Metrics Methods

// RecordLLMRequest records an LLM validation or fallback request.
func (mp *MetricsProvider) RecordLLMRequest(ctx context.Context, operation string, duration time.Duration, success bool) {
	if mp.llmRequestsTotal == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}

	mp.llmRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.llmRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// Scheduler Metrics Methods

// IncrementActiveBots increments the registered-bot gauge.
func (mp *MetricsProvider) IncrementActiveBots(ctx context.Context) {
	if mp.activeBotsGauge == nil {
		return
	}
	mp.activeBotsGauge.Add(ctx, 1)
}

// DecrementActiveBots decrements the registered-bot gauge.
func (mp *MetricsProvider) DecrementActiveBots(ctx context.Context) {
	if mp.activeBotsGauge == nil {
		return
	}
	mp.activeBotsGauge.Add(ctx, -1)
}

// Signal Metrics Methods

// RecordSignal records a persisted signal by status and type.
func (mp *MetricsProvider) RecordSignal(ctx context.Context, signalType, status string) {
	if mp.signalsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("signal_type", signalType),
		attribute.String("status", status),
	}

	mp.signalsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Circuit Breaker Metrics Methods

// SetCircuitBreakerState records whether the LLM circuit breaker is open.
func (mp *MetricsProvider) SetCircuitBreakerState(ctx context.Context, open bool) {
	if mp.circuitBreakerOpen == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	mp.circuitBreakerOpen.Record(ctx, v)
}

// Market-Data Cache Metrics Methods

// RecordCacheHit records a market-data cache hit for the given tier key.
func (mp *MetricsProvider) RecordCacheHit(ctx context.Context, kind string) {
	if mp.cacheHitsTotal == nil {
		return
	}
	mp.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCacheMiss records a market-data cache miss for the given tier key.
func (mp *MetricsProvider) RecordCacheMiss(ctx context.Context, kind string) {
	if mp.cacheMissesTotal == nil {
		return
	}
	mp.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Native Engine Metrics Methods

// SetEngineQueueDepth records how many callers are waiting on the native
// engine's concurrency semaphore.
func (mp *MetricsProvider) SetEngineQueueDepth(ctx context.Context, depth int) {
	if mp.engineQueueDepth == nil {
		return
	}
	mp.engineQueueDepth.Record(ctx, float64(depth))
}

// Handler returns the Prometheus scrape handler for this provider's
// registry, for mounting on an existing router instead of a dedicated
// metrics port.
func (mp *MetricsProvider) Handler() http.Handler {
	if mp.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
