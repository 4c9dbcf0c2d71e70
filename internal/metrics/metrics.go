// Package metrics exposes Prometheus collectors for the conversion service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	conversionsTotal           *prometheus.CounterVec
	conversionDurationSeconds  *prometheus.HistogramVec
	conversionPagesTotal       prometheus.Counter
	fetchesTotal               *prometheus.CounterVec
	conversionsInFlight        prometheus.Gauge
	engineState                prometheus.Gauge
	rateLimitedTotal           prometheus.Counter
	stagingReleaseErrorsTotal  prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		conversionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfmarkd_conversions_total",
				Help: "Total number of conversion requests, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		conversionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdfmarkd_conversion_duration_seconds",
				Help:    "Histogram of engine conversion latencies, labeled by source.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"source"},
		)

		conversionPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfmarkd_conversion_pages_total",
				Help: "Total number of PDF pages converted.",
			},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfmarkd_fetches_total",
				Help: "Total number of remote blob fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		conversionsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdfmarkd_conversions_in_flight",
				Help: "Number of conversions currently holding a staged payload.",
			},
		)

		engineState = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdfmarkd_engine_state",
				Help: "Engine readiness: 0 uninitialized, 1 initializing, 2 ready, 3 failed.",
			},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfmarkd_rate_limited_total",
				Help: "Total number of requests rejected by the admission rate limit.",
			},
		)

		stagingReleaseErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfmarkd_staging_release_errors_total",
				Help: "Total number of staged payloads whose release reported an error.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveConversion records one finished request. outcome is "success" or an error kind.
func ObserveConversion(source, outcome string, pages int, duration time.Duration) {
	Init()
	conversionsTotal.WithLabelValues(source, outcome).Inc()
	if duration > 0 {
		conversionDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
	if pages > 0 {
		conversionPagesTotal.Add(float64(pages))
	}
}

// ObserveFetch records one remote fetch attempt.
func ObserveFetch(outcome string) {
	Init()
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// IncInFlight increments the in-flight conversions gauge.
func IncInFlight() {
	Init()
	conversionsInFlight.Inc()
}

// DecInFlight decrements the in-flight conversions gauge.
func DecInFlight() {
	Init()
	conversionsInFlight.Dec()
}

// SetEngineState publishes the numeric engine state.
func SetEngineState(state int) {
	Init()
	engineState.Set(float64(state))
}

// ObserveRateLimited counts a rejected request.
func ObserveRateLimited() {
	Init()
	rateLimitedTotal.Inc()
}

// ObserveReleaseError counts a staged payload release failure.
func ObserveReleaseError() {
	Init()
	stagingReleaseErrorsTotal.Inc()
}
