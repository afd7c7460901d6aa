// Package metrics exposes Prometheus collectors for the shard pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsTotal               *prometheus.CounterVec
	shardsTotal                *prometheus.CounterVec
	shardDurationSeconds       prometheus.Histogram
	fetchBytesTotal            *prometheus.CounterVec
	activeShards               prometheus.Gauge
	classifyInFlight           prometheus.Gauge
	batchesTotal               prometheus.Counter
	fetchThrottleSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfilter_records_total",
				Help: "Total number of archive records processed, labeled by status and reason.",
			},
			[]string{"status", "reason"},
		)

		shardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfilter_shards_total",
				Help: "Total number of shards finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		shardDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "langfilter_shard_duration_seconds",
				Help:    "Histogram of wall time spent on one shard.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfilter_fetch_bytes_total",
				Help: "Total compressed bytes made available locally, labeled by fetch source.",
			},
			[]string{"source"},
		)

		activeShards = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "langfilter_active_shards",
				Help: "Number of shards currently being processed.",
			},
		)

		classifyInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "langfilter_classify_in_flight",
				Help: "Number of records currently held by the classifier semaphore.",
			},
		)

		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "langfilter_batches_total",
				Help: "Total number of batches completed.",
			},
		)

		fetchThrottleSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "langfilter_fetch_throttle_seconds",
				Help:    "Time spent waiting for a download slot, by archive host.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfilter_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "langfilter_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord counts one record result.
func ObserveRecord(status, reason string) {
	Init()
	if reason == "" {
		reason = "none"
	}
	recordsTotal.WithLabelValues(status, reason).Inc()
}

// ObserveShard records the terminal status and duration of a shard.
func ObserveShard(status string, elapsed time.Duration) {
	Init()
	shardsTotal.WithLabelValues(status).Inc()
	shardDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveFetch adds the bytes made available for a shard.
func ObserveFetch(source string, bytes int64) {
	Init()
	if bytes > 0 {
		fetchBytesTotal.WithLabelValues(source).Add(float64(bytes))
	}
}

// ObserveBatch increments the completed batch counter.
func ObserveBatch() {
	Init()
	batchesTotal.Inc()
}

// ObserveThrottle records how long a download waited on the rate limiter.
func ObserveThrottle(host string, waited time.Duration) {
	Init()
	fetchThrottleSeconds.WithLabelValues(host).Observe(waited.Seconds())
}

// IncActiveShards increments the active shard gauge.
func IncActiveShards() {
	Init()
	activeShards.Inc()
}

// DecActiveShards decrements the active shard gauge.
func DecActiveShards() {
	Init()
	activeShards.Dec()
}

// IncClassifyInFlight increments the classifier occupancy gauge.
func IncClassifyInFlight() {
	Init()
	classifyInFlight.Inc()
}

// DecClassifyInFlight decrements the classifier occupancy gauge.
func DecClassifyInFlight() {
	Init()
	classifyInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
