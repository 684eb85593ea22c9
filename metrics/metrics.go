// Package metrics exposes the mesh's prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	invocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "invocations_total",
			Help:      "Total number of invocations by destination and outcome",
		},
		[]string{"destination", "outcome"},
	)

	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mesh",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of invocations including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	retryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "invocation_retries_total",
			Help:      "Total number of retried invocation attempts",
		},
		[]string{"destination"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "endpoint_cache_hits_total",
			Help:      "Total endpoint resolution cache hits",
		},
		[]string{"destination"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "endpoint_cache_misses_total",
			Help:      "Total endpoint resolution cache misses",
		},
		[]string{"destination"},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mesh",
			Name:      "circuit_state",
			Help:      "Circuit state per destination (0 closed, 1 half-open, 2 open)",
		},
		[]string{"destination"},
	)

	endpointsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mesh",
			Name:      "endpoints",
			Help:      "Number of live endpoints by status",
		},
		[]string{"status"},
	)

	apiRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "api_requests_total",
			Help:      "Total number of mesh API requests",
		},
		[]string{"route", "method", "code"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mesh",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of mesh API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	registerOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(invocationTotal, invocationDuration, retryTotal, cacheHits, cacheMisses,
			circuitState, endpointsByStatus, apiRequestTotal, apiRequestDuration)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveInvocation(destination, outcome string, d time.Duration) {
	invocationTotal.WithLabelValues(destination, outcome).Inc()
	invocationDuration.WithLabelValues(destination).Observe(d.Seconds())
}

func IncRetry(destination string) {
	retryTotal.WithLabelValues(destination).Inc()
}

func IncCacheHit(destination string) {
	cacheHits.WithLabelValues(destination).Inc()
}

func IncCacheMiss(destination string) {
	cacheMisses.WithLabelValues(destination).Inc()
}

func SetCircuitState(destination string, value float64) {
	circuitState.WithLabelValues(destination).Set(value)
}

func SetEndpoints(status string, value float64) {
	endpointsByStatus.WithLabelValues(status).Set(value)
}

func ObserveAPIRequest(route, method, code string, d time.Duration) {
	apiRequestTotal.WithLabelValues(route, method, code).Inc()
	apiRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
