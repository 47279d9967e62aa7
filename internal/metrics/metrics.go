// Package metrics holds the process-wide Prometheus collectors shared by
// fetcher and parser workers. Collectors are registered once on the
// default registry; the orchestrator optionally exposes them over HTTP.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesCrawled counts successful page fetches.
	PagesCrawled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_pages_crawled_total",
		Help: "Number of pages successfully fetched.",
	})

	// URLsAdded counts URLs admitted into the frontier.
	URLsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_urls_added_total",
		Help: "Number of URLs admitted into the frontier.",
	})

	// FetchDuration observes wall time of HTTP fetches by type.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_fetch_duration_seconds",
		Help:    "Duration of HTTP fetches.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"fetch_type"})

	// Errors counts failures by category for the shutdown summary.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_errors_total",
		Help: "Errors by category.",
	}, []string{"error_type"})

	// ParseErrors counts payloads the parser could not process.
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_parse_errors_total",
		Help: "Payloads the parser failed to process.",
	})

	// BackpressureEvents counts fetcher throttling by kind (soft/hard).
	BackpressureEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_backpressure_events_total",
		Help: "Fetcher backpressure events by kind.",
	}, []string{"backpressure_type"})

	// ParseQueueSize tracks the pod's parse queue length.
	ParseQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_parse_queue_size",
		Help: "Current length of the parse queue.",
	})

	// WorkerRestarts counts supervisor restarts of worker groups.
	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_worker_restarts_total",
		Help: "Worker group restarts by role.",
	}, []string{"role"})
)

// Serve exposes /metrics on the given port. Blocks; run in a goroutine.
func Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
