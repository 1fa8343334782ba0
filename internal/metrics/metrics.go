// Package metrics exposes Prometheus collectors for the essayhelper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal              *prometheus.CounterVec
	crawlerBytesTotal              *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds  *prometheus.HistogramVec
	crawlerRobotsFallbacksTotal    prometheus.Counter
	crawlerHeadlessPromotionsTotal prometheus.Counter
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	summarizerCallsTotal           *prometheus.CounterVec
	summarizerBackoffsTotal        prometheus.Counter
	embedderCallsTotal             *prometheus.CounterVec
	searchRequestsTotal            *prometheus.CounterVec
	searchDurationSeconds          prometheus.Histogram
	indexVectors                   prometheus.Gauge
	activeWorkers                  *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by source.",
			},
			[]string{"source"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerRobotsFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallbacks_total",
				Help: "Times an unreachable robots.txt was treated as allow-all.",
			},
		)

		crawlerHeadlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_headless_promotions_total",
				Help: "Pages refetched with the headless browser after a thin probe.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		summarizerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_calls_total",
				Help: "Remote summarization calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		summarizerBackoffsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "summarizer_backoffs_total",
				Help: "Times a worker was elected backoff leader after a rate limit.",
			},
		)

		embedderCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedder_calls_total",
				Help: "Remote embedding calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Search requests, labeled by cache result.",
			},
			[]string{"cache"},
		)

		searchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_duration_seconds",
				Help:    "End-to-end search latency.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		indexVectors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_vectors",
				Help: "Number of vectors currently held by the search index.",
			},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently processing an item, labeled by pipeline.",
			},
			[]string{"pipeline"},
		)
	})
}

// SanitizeHost sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl increments the crawl page metrics.
func ObserveCrawl(source string, status string, bytesFetched int) {
	crawlerPagesTotal.WithLabelValues(source, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	crawlerRobotsFallbacksTotal.Inc()
}

// ObserveHeadlessPromotion counts a probe promoted to a headless refetch.
func ObserveHeadlessPromotion() {
	crawlerHeadlessPromotionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSummarizeCall increments the per-outcome call counter.
func ObserveSummarizeCall(outcome string) {
	summarizerCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackoffElection counts a worker becoming backoff leader.
func ObserveBackoffElection() {
	summarizerBackoffsTotal.Inc()
}

// ObserveEmbedCall increments the embedding call counter.
func ObserveEmbedCall(outcome string) {
	embedderCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSearch records one search with its cache result (hit/miss/error).
func ObserveSearch(cache string, duration time.Duration) {
	searchRequestsTotal.WithLabelValues(cache).Inc()
	searchDurationSeconds.Observe(duration.Seconds())
}

// SetIndexVectors publishes the current index size.
func SetIndexVectors(n int) {
	indexVectors.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge for a pipeline.
func IncActiveWorkers(pipeline string) {
	activeWorkers.WithLabelValues(pipeline).Inc()
}

// DecActiveWorkers decrements the active workers gauge for a pipeline.
func DecActiveWorkers(pipeline string) {
	activeWorkers.WithLabelValues(pipeline).Dec()
}
