package metrics

import (
	stderrors "errors"
	"runtime"
	"strings"
	"time"

	"github.com/propsearch/prop-search/internal/pkg/errors"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Search metrics
	SearchRequests      *Counter
	SearchLatency       *Histogram
	SearchResults       *Histogram
	SearchErrors        *CounterVec   // labels: error_type
	SearchStageDuration *HistogramVec // labels: stage
	FallbackSearches    *Counter

	// Query analysis metrics
	AnalyzeRequests *Counter
	AnalyzeLatency  *Histogram

	// Embedding metrics
	EmbedRequests *Counter
	EmbedLatency  *Histogram
	EmbedErrors   *Counter

	// Cache metrics
	CacheHits   *Counter
	CacheMisses *Counter
	CacheSize   *Gauge

	// Ingest metrics
	ListingsUpserted *Counter
	UpsertLatency    *Histogram

	// Bus metrics
	BusEventsPublished *CounterVec   // labels: topic
	BusEventLatency    *HistogramVec // labels: topic
	BusErrors          *CounterVec   // labels: topic

	// HTTP metrics
	HTTPRequests         *CounterVec   // labels: method, path, status
	HTTPDuration         *HistogramVec // labels: method, path
	HTTPRequestsInFlight *Gauge

	// System metrics
	GoroutineCount *Gauge
	MemoryUsage    *Gauge // in bytes
	Uptime         *Counter

	startTime time.Time
}

// Search pipeline stage names for RecordSearchStage.
const (
	StageAnalyze   = "analyze"
	StageEmbed     = "embed"
	StageRetrieval = "retrieval"
	StageRank      = "rank"
)

// New creates a new metrics instance with all metrics initialized.
func New() *Metrics {
	m := &Metrics{
		SearchRequests: NewCounter(
			"prop_search_requests_total",
			"Total number of search requests",
			nil,
		),
		SearchLatency: NewHistogram(
			"prop_search_latency_ms",
			"Search request latency in milliseconds",
			[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		),
		SearchResults: NewHistogram(
			"prop_search_results",
			"Number of results per search",
			[]float64{1, 5, 10, 20, 50, 100},
		),
		SearchErrors: NewCounterVec(
			"prop_search_errors_total",
			"Total number of search errors",
			[]string{"error_type"},
		),
		SearchStageDuration: NewHistogramVec(
			"prop_search_stage_duration_ms",
			"Search stage duration in milliseconds",
			[]string{"stage"},
			[]float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		),
		FallbackSearches: NewCounter(
			"prop_search_fallback_total",
			"Total number of degraded filter-only searches",
			nil,
		),

		AnalyzeRequests: NewCounter(
			"prop_analyze_requests_total",
			"Total number of query analysis runs",
			nil,
		),
		AnalyzeLatency: NewHistogram(
			"prop_analyze_latency_ms",
			"Query analysis latency in milliseconds",
			[]float64{1, 2, 5, 10, 25, 50},
		),

		EmbedRequests: NewCounter(
			"prop_embed_requests_total",
			"Total number of embedding requests",
			nil,
		),
		EmbedLatency: NewHistogram(
			"prop_embed_latency_ms",
			"Embedding retrieval latency in milliseconds",
			[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		),
		EmbedErrors: NewCounter(
			"prop_embed_errors_total",
			"Total number of embedding backend failures",
			nil,
		),

		CacheHits: NewCounter(
			"prop_embed_cache_hits_total",
			"Total number of embedding cache hits",
			nil,
		),
		CacheMisses: NewCounter(
			"prop_embed_cache_misses_total",
			"Total number of embedding cache misses",
			nil,
		),
		CacheSize: NewGauge(
			"prop_embed_cache_size",
			"Current embedding cache size",
			nil,
		),

		ListingsUpserted: NewCounter(
			"prop_listings_upserted_total",
			"Total number of listings upserted",
			nil,
		),
		UpsertLatency: NewHistogram(
			"prop_upsert_latency_ms",
			"Listing upsert latency in milliseconds",
			[]float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		),

		BusEventsPublished: NewCounterVec(
			"prop_bus_events_published_total",
			"Total number of events published to the bus",
			[]string{"topic"},
		),
		BusEventLatency: NewHistogramVec(
			"prop_bus_event_latency_seconds",
			"Event bus publish latency in seconds",
			[]string{"topic"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		),
		BusErrors: NewCounterVec(
			"prop_bus_errors_total",
			"Total number of event bus errors",
			[]string{"topic"},
		),

		HTTPRequests: NewCounterVec(
			"prop_http_requests_total",
			"Total number of HTTP requests",
			[]string{"method", "path", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"prop_http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]string{"method", "path"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		),
		HTTPRequestsInFlight: NewGauge(
			"prop_http_requests_in_flight",
			"Number of HTTP requests currently being processed",
			nil,
		),

		GoroutineCount: NewGauge(
			"prop_goroutines",
			"Number of goroutines",
			nil,
		),
		MemoryUsage: NewGauge(
			"prop_memory_bytes",
			"Memory usage in bytes",
			nil,
		),
		Uptime: NewCounter(
			"prop_uptime_seconds",
			"Application uptime in seconds",
			nil,
		),

		startTime: time.Now(),
	}

	go m.collectSystemMetrics()

	return m
}

// collectSystemMetrics periodically collects system metrics.
func (m *Metrics) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.GoroutineCount.Set(float64(runtime.NumGoroutine()))

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		m.MemoryUsage.Set(float64(memStats.Alloc))

		m.Uptime.Add(15)
	}
}

// RecordSearch records search metrics.
func (m *Metrics) RecordSearch(latencyMs int64, resultCount int, err error) {
	m.SearchRequests.Inc()
	m.SearchLatency.Observe(float64(latencyMs))
	m.SearchResults.Observe(float64(resultCount))

	if err != nil {
		m.SearchErrors.WithLabels(errorType(err)).Inc()
	}
}

// RecordSearchStage records the duration of a specific pipeline stage.
// stage should be one of the Stage* constants.
func (m *Metrics) RecordSearchStage(stage string, latencyMs int64) {
	m.SearchStageDuration.WithLabels(stage).Observe(float64(latencyMs))
}

// RecordFallback records a degraded filter-only search.
func (m *Metrics) RecordFallback() {
	m.FallbackSearches.Inc()
}

// RecordAnalyze records query analysis metrics.
func (m *Metrics) RecordAnalyze(latencyMs int64) {
	m.AnalyzeRequests.Inc()
	m.AnalyzeLatency.Observe(float64(latencyMs))
}

// RecordEmbed records embedding retrieval metrics.
func (m *Metrics) RecordEmbed(latencyMs int64, err error) {
	m.EmbedRequests.Inc()
	m.EmbedLatency.Observe(float64(latencyMs))
	if err != nil {
		m.EmbedErrors.Inc()
	}
}

// RecordCacheHit records an embedding cache hit.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records an embedding cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// UpdateCacheSize updates the embedding cache size gauge.
func (m *Metrics) UpdateCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

// RecordUpsert records listing ingest metrics.
func (m *Metrics) RecordUpsert(count int, latencyMs int64) {
	m.ListingsUpserted.Add(int64(count))
	m.UpsertLatency.Observe(float64(latencyMs))
}

// RecordBusPublish records event bus publish metrics.
func (m *Metrics) RecordBusPublish(topic string, latencyMs int64, err error) {
	m.BusEventsPublished.WithLabels(topic).Inc()
	m.BusEventLatency.WithLabels(topic).Observe(float64(latencyMs) / 1000.0)

	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

// RecordHTTP records HTTP request metrics. Called by the HTTP middleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabels(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabels(method, path).Observe(durationSeconds)
}

// errorType maps an error to a low-cardinality label value.
func errorType(err error) string {
	if err == nil {
		return "none"
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "generic"
}

func statusCode(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
