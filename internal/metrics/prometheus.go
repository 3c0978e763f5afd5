package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	// Search metrics
	writeCounter(&sb, m.SearchRequests)
	writeHistogram(&sb, m.SearchLatency)
	writeHistogram(&sb, m.SearchResults)
	writeCounterVec(&sb, m.SearchErrors)
	writeHistogramVec(&sb, m.SearchStageDuration)
	writeCounter(&sb, m.FallbackSearches)

	// Query analysis metrics
	writeCounter(&sb, m.AnalyzeRequests)
	writeHistogram(&sb, m.AnalyzeLatency)

	// Embedding metrics
	writeCounter(&sb, m.EmbedRequests)
	writeHistogram(&sb, m.EmbedLatency)
	writeCounter(&sb, m.EmbedErrors)

	// Cache metrics
	writeCounter(&sb, m.CacheHits)
	writeCounter(&sb, m.CacheMisses)
	writeGauge(&sb, m.CacheSize)

	// Ingest metrics
	writeCounter(&sb, m.ListingsUpserted)
	writeHistogram(&sb, m.UpsertLatency)

	// Bus metrics
	writeCounterVec(&sb, m.BusEventsPublished)
	writeHistogramVec(&sb, m.BusEventLatency)
	writeCounterVec(&sb, m.BusErrors)

	// HTTP metrics
	writeCounterVec(&sb, m.HTTPRequests)
	writeHistogramVec(&sb, m.HTTPDuration)
	writeGauge(&sb, m.HTTPRequestsInFlight)

	// System metrics
	writeGauge(&sb, m.GoroutineCount)
	writeGauge(&sb, m.MemoryUsage)
	writeCounter(&sb, m.Uptime)

	return sb.String()
}

// writeCounter writes a counter in Prometheus format.
func writeCounter(sb *strings.Builder, c *Counter) {
	fmt.Fprintf(sb, "# HELP %s %s\n", c.Name(), c.Help())
	fmt.Fprintf(sb, "# TYPE %s counter\n", c.Name())
	sb.WriteString(c.Name())
	writeLabels(sb, c.Labels())
	fmt.Fprintf(sb, " %d\n", c.Value())
}

// writeGauge writes a gauge in Prometheus format.
func writeGauge(sb *strings.Builder, g *Gauge) {
	fmt.Fprintf(sb, "# HELP %s %s\n", g.Name(), g.Help())
	fmt.Fprintf(sb, "# TYPE %s gauge\n", g.Name())
	sb.WriteString(g.Name())
	writeLabels(sb, g.Labels())
	fmt.Fprintf(sb, " %.0f\n", g.Value())
}

// writeHistogram writes a histogram in Prometheus format.
func writeHistogram(sb *strings.Builder, h *Histogram) {
	fmt.Fprintf(sb, "# HELP %s %s\n", h.Name(), h.Help())
	fmt.Fprintf(sb, "# TYPE %s histogram\n", h.Name())

	buckets := h.Buckets()
	counts := h.BucketCounts()

	for i, bucket := range buckets {
		fmt.Fprintf(sb, "%s_bucket{le=\"%g\"} %d\n", h.Name(), bucket, counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", h.Name(), counts[len(counts)-1])
	fmt.Fprintf(sb, "%s_sum %.2f\n", h.Name(), h.Sum())
	fmt.Fprintf(sb, "%s_count %d\n", h.Name(), h.Count())
}

// writeCounterVec writes a counter vector in Prometheus format.
func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.GetAll()
	if len(counters) == 0 {
		return
	}

	fmt.Fprintf(sb, "# HELP %s %s\n", cv.Name(), cv.Help())
	fmt.Fprintf(sb, "# TYPE %s counter\n", cv.Name())

	for _, c := range counters {
		sb.WriteString(c.Name())
		writeLabels(sb, c.Labels())
		fmt.Fprintf(sb, " %d\n", c.Value())
	}
}

// writeHistogramVec writes a histogram vector in Prometheus format.
func writeHistogramVec(sb *strings.Builder, hv *HistogramVec) {
	histograms := hv.GetAll()
	if len(histograms) == 0 {
		return
	}

	fmt.Fprintf(sb, "# HELP %s %s\n", hv.Name(), hv.Help())
	fmt.Fprintf(sb, "# TYPE %s histogram\n", hv.Name())

	for _, h := range histograms {
		labels := h.Labels()
		buckets := h.Buckets()
		counts := h.BucketCounts()

		for i, bucket := range buckets {
			sb.WriteString(h.Name())
			sb.WriteString("_bucket")
			writeLabelsWith(sb, labels, "le", fmt.Sprintf("%g", bucket))
			fmt.Fprintf(sb, " %d\n", counts[i])
		}
		sb.WriteString(h.Name())
		sb.WriteString("_bucket")
		writeLabelsWith(sb, labels, "le", "+Inf")
		fmt.Fprintf(sb, " %d\n", counts[len(counts)-1])

		sb.WriteString(h.Name())
		sb.WriteString("_sum")
		writeLabels(sb, labels)
		fmt.Fprintf(sb, " %.2f\n", h.Sum())

		sb.WriteString(h.Name())
		sb.WriteString("_count")
		writeLabels(sb, labels)
		fmt.Fprintf(sb, " %d\n", h.Count())
	}
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(sb, "%s=\"%s\"", k, escapeString(labels[k]))
	}
	sb.WriteString("}")
}

// writeLabelsWith writes labels plus one extra label (used for "le").
func writeLabelsWith(sb *strings.Builder, labels map[string]string, extraKey, extraValue string) {
	merged := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		merged[k] = v
	}
	merged[extraKey] = extraValue
	writeLabels(sb, merged)
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
