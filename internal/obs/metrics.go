// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/flyingrobots/djed/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_added_total",
		Help: "Total number of jobs added to a queue",
	}, []string{"queue"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	}, []string{"queue"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_failed_total",
		Help: "Total number of jobs that exhausted their retries",
	}, []string{"queue"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Total number of job retry attempts",
	}, []string{"queue"})
	JobsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_dead_lettered_total",
		Help: "Total number of jobs moved to the dead letter queue",
	}, []string{"queue"})
	JobProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_processing_duration_seconds",
		Help:    "Histogram of job processing durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current number of waiting+delayed jobs",
	}, []string{"queue"})

	// HTTP client metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpclient_requests_total",
		Help: "Total HTTP requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "httpclient_request_duration_seconds",
		Help:    "Histogram of HTTP request durations by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	}, []string{"endpoint"})
	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times a circuit breaker transitioned to Open",
	}, []string{"endpoint"})

	// Cache metrics
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits by namespace",
	}, []string{"namespace"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses by namespace",
	}, []string{"namespace"})
	CacheStampedesAvoided = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_stampedes_avoided_total",
		Help: "Total GetOrSet calls that joined an in-flight compute instead of starting a new one",
	}, []string{"namespace"})
)

func init() {
	prometheus.MustRegister(
		JobsAdded, JobsCompleted, JobsFailed, JobsRetried, JobsDeadLettered,
		JobProcessingDuration, QueueDepth,
		HTTPRequestsTotal, HTTPRequestDuration, CircuitBreakerState, CircuitBreakerTrips,
		CacheHits, CacheMisses, CacheStampedesAvoided,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Prefer StartHTTPServer, which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
