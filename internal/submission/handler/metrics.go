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
	fangateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fangate_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	fangateRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fangate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	fangateHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fangate_health_checks_total",
		Help: "Total dependency health probes by component and result.",
	}, []string{"component", "result"})

	fangateThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fangate_api_throttled_total",
		Help: "Requests rejected by the per-IP API throttle.",
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
			path = "unmatched"
		}

		fangateRequestsTotal.WithLabelValues(method, path, status).Inc()
		fangateRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(component string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	fangateHealthChecksTotal.WithLabelValues(component, result).Inc()
}
