package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	evlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidentry_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	evlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evidentry_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	evlDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidentry_decisions_total",
		Help: "Total decisions recorded by status.",
	}, []string{"status"})

	evlLedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidentry_ledger_entries_total",
		Help: "Total evidence ledger entries appended by entry type.",
	}, []string{"entry_type"})

	evlVerifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evidentry_ledger_verify_failures_total",
		Help: "Total chain verifications that found a broken ledger.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		evlRequestsTotal.WithLabelValues(method, path, status).Inc()
		evlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDecision records one recorded decision by status.
func RecordDecision(status string) {
	evlDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordLedgerAppend records one appended ledger entry by entry type.
func RecordLedgerAppend(entryType string) {
	evlLedgerEntriesTotal.WithLabelValues(entryType).Inc()
}

// RecordVerifyFailure records one failed chain verification.
func RecordVerifyFailure() {
	evlVerifyFailuresTotal.Inc()
}
