package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_executions_total",
		Help: "Contract executions by resulting status.",
	}, []string{"status"})

	ledgerValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_validations_total",
		Help: "Asset validations by resulting status.",
	}, []string{"status"})

	ledgerRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_registrations_total",
		Help: "Registrations by kind and resulting status.",
	}, []string{"kind", "status"})

	ledgerRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recoveries_total",
		Help: "Lazy recovery outcomes on contended storage cells.",
	}, []string{"action"})

	ledgerHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_health_checks_total",
		Help: "Total dependency health probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		ledgerRequestsTotal.WithLabelValues(method, path, code).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordExecution records the outcome of one contract execution.
func RecordExecution(code status.Code) {
	ledgerExecutionsTotal.WithLabelValues(code.String()).Inc()
}

// RecordValidation records the outcome of one asset validation.
func RecordValidation(code status.Code) {
	ledgerValidationsTotal.WithLabelValues(code.String()).Inc()
}

// RecordRegistration records a certificate, secret, contract or function
// registration.
func RecordRegistration(kind string, code status.Code) {
	ledgerRegistrationsTotal.WithLabelValues(kind, code.String()).Inc()
}

// RecordRecoveries records the outcome of a recovery run. Keys that held no
// prepared cell are not counted.
func RecordRecoveries(recs []storage.Recovery) {
	for _, r := range recs {
		if r.Action == storage.RecoveryNone {
			continue
		}
		ledgerRecoveriesTotal.WithLabelValues(r.Action.String()).Inc()
	}
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(success bool) {
	if success {
		ledgerHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		ledgerHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}
