// Package metrics provides Prometheus metrics for the geoheat service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the heatmap service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion Metrics - How events flow through the pipeline
	eventsIngested     prometheus.Counter
	eventsRejected     prometheus.Counter
	eventsDuplicate    prometheus.Counter
	eventsNormalized   prometheus.Counter
	deltasEmitted      prometheus.Counter
	deltasPersisted    prometheus.Counter
	batchLatency       prometheus.Histogram
	backgroundBatches  prometheus.Counter
	aggregatorCounters prometheus.Gauge
	dedupeEntries      prometheus.Gauge

	// Tile Metrics - Materialized view cache
	tileCacheHits          prometheus.Counter
	tileCacheMisses        prometheus.Counter
	tileCacheInvalidations prometheus.Counter
	tileCacheSize          prometheus.Gauge
	tileBuildLatency       prometheus.Histogram
	tileRequests           *prometheus.CounterVec

	// Repository Metrics - Aggregate store
	repositoryRecordsTotal  prometheus.Gauge
	repositoryTilesTotal    prometheus.Gauge
	repositoryPruned        prometheus.Counter
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue Metrics - Per pipeline stage
	queueSize          *prometheus.GaugeVec
	queueCapacity      *prometheus.GaugeVec
	queueEnqueue       *prometheus.CounterVec
	queueDequeue       *prometheus.CounterVec
	queueEnqueueErrors *prometheus.CounterVec

	// Stage Metrics - Worker performance per pipeline stage
	stageActive            *prometheus.GaugeVec
	stageProcessingLatency *prometheus.HistogramVec
	stageErrors            *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "geoheat",
		subsystem:        "heatmap",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ingestion Metrics
	m.eventsIngested = m.counter("events_ingested_total", "Total number of raw events accepted for processing")
	m.eventsRejected = m.counter("events_rejected_total", "Total number of raw events rejected by validation")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Total number of duplicate events dropped (indicates data quality)")
	m.eventsNormalized = m.counter("events_normalized_total", "Total number of normalized events produced across zoom levels")
	m.deltasEmitted = m.counter("deltas_emitted_total", "Total number of aggregate deltas emitted")
	m.deltasPersisted = m.counter("deltas_persisted_total", "Total number of aggregate deltas written to the store")
	m.batchLatency = m.histogram("batch_processing_latency_milliseconds", "Latency of processing one event batch in milliseconds")
	m.backgroundBatches = m.counter("background_batches_total", "Total number of synthetic background batches ingested")
	m.aggregatorCounters = m.gauge("aggregator_counters", "Number of live window counters held by the aggregator")
	m.dedupeEntries = m.gauge("dedupe_entries", "Number of event ids remembered by the deduplicator")

	// Tile Metrics
	m.tileCacheHits = m.counter("tile_cache_hits_total", "Total number of tile requests served from cache")
	m.tileCacheMisses = m.counter("tile_cache_misses_total", "Total number of tile requests that required a build")
	m.tileCacheInvalidations = m.counter("tile_cache_invalidations_total", "Total number of cached tiles invalidated")
	m.tileCacheSize = m.gauge("tile_cache_size", "Number of tiles currently cached")
	m.tileBuildLatency = m.histogram("tile_build_latency_milliseconds", "Tile build latency in milliseconds")
	m.tileRequests = m.counterVec("tile_requests_total", "Total number of tile queries by layer and response status", "layer", "status_code")

	// Repository Metrics
	m.repositoryRecordsTotal = m.gauge("repository_records_total", "Total number of aggregate records held by the store")
	m.repositoryTilesTotal = m.gauge("repository_tiles_total", "Total number of distinct tile keys held by the store")
	m.repositoryPruned = m.counter("repository_pruned_total", "Total number of aggregate records removed by retention")
	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds", "Repository upsert latency in milliseconds")
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Repository query latency in milliseconds")

	// Queue Metrics
	m.queueSize = m.gaugeVec("queue_size", "Current number of buffered items per stage queue", "stage")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Maximum capacity per stage queue", "stage")
	m.queueEnqueue = m.counterVec("queue_enqueue_total", "Total number of items enqueued per stage", "stage")
	m.queueDequeue = m.counterVec("queue_dequeue_total", "Total number of items dequeued per stage", "stage")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Total number of rejected enqueues per stage", "stage")

	// Stage Metrics
	m.stageActive = m.gaugeVec("stage_active", "Whether a pipeline stage worker is running (1) or stopped (0)", "stage")
	m.stageProcessingLatency = m.histogramVec("stage_processing_latency_milliseconds", "Per-item processing latency by pipeline stage", "stage")
	m.stageErrors = m.counterVec("stage_errors_total", "Total number of per-item failures by pipeline stage", "stage")

	// HTTP Performance Metrics
	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	// Enhanced Error Metrics
	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint",
		"endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors",
		"component", "error_type")

	// System Performance Metrics
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.customLabels,
	})
}

// SetRefreshInterval applies WithRefreshInterval to the global manager.
// Call it before starting the gauge updaters.
func SetRefreshInterval(interval time.Duration) {
	WithRefreshInterval(interval)(globalManager)
}

// RefreshInterval returns how often periodic gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// Ingestion Metrics Functions.

// RecordEventsIngested adds n accepted raw events.
func RecordEventsIngested(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.eventsIngested.Add(float64(n))
	}
}

// RecordEventRejected increments the rejected events counter.
func RecordEventRejected() {
	if globalManager.enabled {
		globalManager.eventsRejected.Inc()
	}
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	if globalManager.enabled {
		globalManager.eventsDuplicate.Inc()
	}
}

// RecordEventsNormalized adds n normalized events.
func RecordEventsNormalized(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.eventsNormalized.Add(float64(n))
	}
}

// RecordDeltasEmitted adds n aggregate deltas.
func RecordDeltasEmitted(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.deltasEmitted.Add(float64(n))
	}
}

// RecordDeltasPersisted adds n persisted deltas.
func RecordDeltasPersisted(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.deltasPersisted.Add(float64(n))
	}
}

// RecordBatchLatency records batch processing latency in milliseconds.
func RecordBatchLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.batchLatency.Observe(latencyMs)
	}
}

// RecordBackgroundBatch increments the background batch counter.
func RecordBackgroundBatch() {
	if globalManager.enabled {
		globalManager.backgroundBatches.Inc()
	}
}

// UpdateAggregatorCounters sets the number of live aggregator counters.
func UpdateAggregatorCounters(count int) {
	if globalManager.enabled {
		globalManager.aggregatorCounters.Set(float64(count))
	}
}

// UpdateDedupeEntries sets the number of remembered event ids.
func UpdateDedupeEntries(count int64) {
	if globalManager.enabled {
		globalManager.dedupeEntries.Set(float64(count))
	}
}

// Tile Metrics Functions.

// RecordTileCacheHit increments the tile cache hit counter.
func RecordTileCacheHit() {
	if globalManager.enabled {
		globalManager.tileCacheHits.Inc()
	}
}

// RecordTileCacheMiss increments the tile cache miss counter.
func RecordTileCacheMiss() {
	if globalManager.enabled {
		globalManager.tileCacheMisses.Inc()
	}
}

// RecordTileCacheInvalidations adds n invalidated tiles.
func RecordTileCacheInvalidations(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.tileCacheInvalidations.Add(float64(n))
	}
}

// UpdateTileCacheSize sets the number of cached tiles.
func UpdateTileCacheSize(size int) {
	if globalManager.enabled {
		globalManager.tileCacheSize.Set(float64(size))
	}
}

// RecordTileBuildLatency records tile build latency in milliseconds.
func RecordTileBuildLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.tileBuildLatency.Observe(latencyMs)
	}
}

// Repository Metrics Functions.

// UpdateRepositoryRecordsTotal sets the total number of stored aggregate records.
func UpdateRepositoryRecordsTotal(count int) {
	if globalManager.enabled {
		globalManager.repositoryRecordsTotal.Set(float64(count))
	}
}

// UpdateRepositoryTilesTotal sets the number of distinct tile keys in the store.
func UpdateRepositoryTilesTotal(count int) {
	if globalManager.enabled {
		globalManager.repositoryTilesTotal.Set(float64(count))
	}
}

// RecordRepositoryPruned adds n records removed by retention.
func RecordRepositoryPruned(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.repositoryPruned.Add(float64(n))
	}
}

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.repositoryUpdateLatency.Observe(latencyMs)
	}
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.repositoryQueryLatency.Observe(latencyMs)
	}
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size for a stage.
func UpdateQueueSize(stage string, size int) {
	if globalManager.enabled {
		globalManager.queueSize.WithLabelValues(stage).Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity for a stage.
func UpdateQueueCapacity(stage string, capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.WithLabelValues(stage).Set(float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter for a stage.
func RecordQueueEnqueue(stage string) {
	if globalManager.enabled {
		globalManager.queueEnqueue.WithLabelValues(stage).Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter for a stage.
func RecordQueueDequeue(stage string) {
	if globalManager.enabled {
		globalManager.queueDequeue.WithLabelValues(stage).Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter for a stage.
func RecordQueueEnqueueError(stage string) {
	if globalManager.enabled {
		globalManager.queueEnqueueErrors.WithLabelValues(stage).Inc()
	}
}

// Stage Metrics Functions.

// UpdateStageActive marks a stage worker as running or stopped.
func UpdateStageActive(stage string, active bool) {
	if !globalManager.enabled {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	globalManager.stageActive.WithLabelValues(stage).Set(v)
}

// RecordStageProcessingLatency records per-item latency for a stage.
func RecordStageProcessingLatency(stage string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.stageProcessingLatency.WithLabelValues(stage).Observe(latencyMs)
	}
}

// RecordStageError increments the failure counter for a stage.
func RecordStageError(stage string) {
	if globalManager.enabled {
		globalManager.stageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordTileRequest counts one tile query for layer answered with statusCode.
func RecordTileRequest(layer, statusCode string) {
	if globalManager.enabled {
		globalManager.tileRequests.WithLabelValues(layer, statusCode).Inc()
	}
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if globalManager.enabled {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if globalManager.enabled {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if globalManager.enabled {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if globalManager.enabled {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
