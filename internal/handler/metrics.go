package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	staywardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayward_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	staywardRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stayward_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	staywardIntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayward_integrity_checks_total",
		Help: "Total audit chain verifications by result.",
	}, []string{"result"})

	staywardRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayward_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by limiter backend.",
	}, []string{"backend"})
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
			path = "unmatched"
		}

		staywardRequestsTotal.WithLabelValues(method, path, status).Inc()
		staywardRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIntegrityCheck records the result of an audit chain verification.
func RecordIntegrityCheck(valid bool) {
	if valid {
		staywardIntegrityChecksTotal.WithLabelValues("valid").Inc()
	} else {
		staywardIntegrityChecksTotal.WithLabelValues("invalid").Inc()
	}
}

var staywardHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stayward_health_checks_total",
	Help: "Total dependency health probes by component and result.",
}, []string{"component", "result"})

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(component string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	staywardHealthChecksTotal.WithLabelValues(component, result).Inc()
}
