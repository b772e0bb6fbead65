// Package metrics provides Prometheus instrumentation for scoring runs,
// data-source fetches, on-chain publication and the HTTP API.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// FetchAttemptsTotal counts every outbound attempt by host and outcome.
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Outbound data-source attempts by host and outcome.",
		},
		[]string{"host", "outcome"},
	)

	// FetchFailuresTotal counts calls that failed after all retries.
	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Data-source calls that failed definitively, by host.",
		},
		[]string{"host"},
	)

	// FetchDuration observes single-attempt latency by host.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "fetch",
			Name:      "attempt_duration_seconds",
			Help:      "Latency of a single outbound attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"host"},
	)

	// RunsTotal counts scoring runs by result (ok, empty, error).
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "scoring_runs_total",
			Help:      "Scoring pipeline runs by result.",
		},
		[]string{"result"},
	)

	// RunDuration observes end-to-end scoring run time.
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "scoring_run_duration_seconds",
		Help:      "Wall time of a scoring run.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// AssetsTotal counts per-asset outcomes (scored, excluded).
	AssetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "assets_total",
			Help:      "Assets processed by outcome.",
		},
		[]string{"status"},
	)

	// MetricsAbsentTotal counts raw metric values recorded as absent.
	MetricsAbsentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "metric_absent_total",
			Help:      "Raw metric values that were absent and later imputed, by metric.",
		},
		[]string{"metric"},
	)

	// Score exposes the latest scores per token and component.
	Score = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "reputation_score",
			Help:      "Latest score by token and component.",
		},
		[]string{"token", "component"},
	)

	// LastRunTimestamp is the unix time of the last completed run.
	LastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last completed scoring run.",
	})

	// PublishTotal counts on-chain score updates by result.
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "chain",
			Name:      "publish_total",
			Help:      "On-chain setScores transactions by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FetchAttemptsTotal,
		FetchFailuresTotal,
		FetchDuration,
		RunsTotal,
		RunDuration,
		AssetsTotal,
		MetricsAbsentTotal,
		Score,
		LastRunTimestamp,
		PublishTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not the raw path
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
