// Package metrics exposes Prometheus collectors for the wikitrust crawler.
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

// Page outcomes used as the status label.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

var (
	pagesTotal                 *prometheus.CounterVec
	citationsTotal             prometheus.Counter
	fetchRetriesTotal          prometheus.Counter
	fetchDurationSeconds       prometheus.Histogram
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	popularityLookupsTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikitrust_pages_total",
				Help: "Pages processed by the crawl pool, labeled by outcome.",
			},
			[]string{"status"},
		)

		citationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wikitrust_citations_total",
				Help: "Citation rows persisted.",
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wikitrust_fetch_retries_total",
				Help: "Page fetches retried after a transient failure.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wikitrust_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wikitrust_active_workers",
				Help: "Number of workers currently processing a page.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wikitrust_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		popularityLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikitrust_popularity_lookups_total",
				Help: "Popularity record lookups, labeled by where the record came from.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikitrust_http_requests_total",
				Help: "Requests served by the ops endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wikitrust_http_request_duration_seconds",
				Help:    "Histogram of ops endpoint latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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

// ObservePage counts a page outcome.
func ObservePage(status string) {
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveCitations adds persisted citation rows.
func ObserveCitations(n int) {
	if n > 0 {
		citationsTotal.Add(float64(n))
	}
}

// ObserveFetch records one fetch attempt's latency.
func ObserveFetch(duration time.Duration) {
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetry counts a retried fetch.
func ObserveRetry() {
	fetchRetriesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePopularityLookup counts a popularity lookup by result ("cached", "fetched", "failed").
func ObservePopularityLookup(result string) {
	popularityLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records an ops endpoint request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
