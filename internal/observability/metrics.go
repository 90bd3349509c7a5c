package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager exposes the coordinator's Prometheus metrics: process
// uptime and HTTP surface (kept from the teacher), plus per-path probe
// outcomes, circuit breaker state, and credential refresh activity.
//
// Grounded on the teacher's internal/observability/metrics.go
// (NewMetricsManager/initMetrics/registerMetrics split, own *prometheus.Registry
// rather than the default global one); tool-call/upstream-server/Docker
// metrics are replaced with the coordinator's probe/breaker/credential
// metric families.
type MetricsManager struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	probeTotal       *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	healthScore      *prometheus.GaugeVec
	serversMonitored prometheus.Gauge

	breakerStateChanges *prometheus.CounterVec
	breakerOpen         *prometheus.GaugeVec

	credentialRefreshes *prometheus.CounterVec
	credentialFailures  *prometheus.CounterVec
}

// NewMetricsManager builds and registers the coordinator's metric set.
func NewMetricsManager(logger *zap.Logger) *MetricsManager {
	registry := prometheus.NewRegistry()
	mm := &MetricsManager{logger: logger, registry: registry}
	mm.initMetrics()
	mm.registerMetrics()
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "healthcoord_uptime_seconds",
		Help: "Seconds since the coordinator process started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcoord_http_requests_total",
			Help: "Total HTTP requests served by the read API",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthcoord_http_request_duration_seconds",
			Help:    "HTTP request duration for the read API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	mm.probeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcoord_probe_total",
			Help: "Total probes issued, by server, path, and outcome",
		},
		[]string{"server", "path", "success", "error_kind"},
	)

	mm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthcoord_probe_duration_seconds",
			Help:    "Probe latency by server and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "path"},
	)

	mm.healthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthcoord_health_score",
			Help: "Most recent weighted health score (0-1) per server",
		},
		[]string{"server"},
	)

	mm.serversMonitored = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "healthcoord_servers_monitored",
		Help: "Number of servers currently configured for monitoring",
	})

	mm.breakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcoord_breaker_state_changes_total",
			Help: "Circuit breaker state transitions, by server and path",
		},
		[]string{"server", "path", "to_state"},
	)

	mm.breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthcoord_breaker_open",
			Help: "1 if the server's overall circuit state is not CLOSED, else 0",
		},
		[]string{"server", "overall_state"},
	)

	mm.credentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcoord_credential_refresh_total",
			Help: "Successful credential refreshes by server",
		},
		[]string{"server"},
	)

	mm.credentialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcoord_credential_refresh_failures_total",
			Help: "Failed credential refresh attempts by server",
		},
		[]string{"server"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	collectors := []prometheus.Collector{
		mm.uptime, mm.httpRequests, mm.httpDuration,
		mm.probeTotal, mm.probeDuration, mm.healthScore, mm.serversMonitored,
		mm.breakerStateChanges, mm.breakerOpen,
		mm.credentialRefreshes, mm.credentialFailures,
	}
	for _, c := range collectors {
		if err := mm.registry.Register(c); err != nil {
			mm.logger.Warn("failed to register metric", zap.Error(err))
		}
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{})
}

// SetUptime updates the uptime gauge from startTime.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records one read-API HTTP request.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProbe records one probe outcome.
func (mm *MetricsManager) RecordProbe(server, path string, success bool, errorKind string, duration time.Duration) {
	mm.probeTotal.WithLabelValues(server, path, boolLabel(success), errorKind).Inc()
	mm.probeDuration.WithLabelValues(server, path).Observe(duration.Seconds())
}

// SetHealthScore records the latest weighted health score for a server.
func (mm *MetricsManager) SetHealthScore(server string, score float64) {
	mm.healthScore.WithLabelValues(server).Set(score)
}

// SetServersMonitored updates the configured-server gauge.
func (mm *MetricsManager) SetServersMonitored(n int) {
	mm.serversMonitored.Set(float64(n))
}

// RecordBreakerTransition records a sub-breaker state change.
func (mm *MetricsManager) RecordBreakerTransition(server, path, toState string) {
	mm.breakerStateChanges.WithLabelValues(server, path, toState).Inc()
}

// SetBreakerOverall records the current overall breaker state as a 0/1 gauge.
func (mm *MetricsManager) SetBreakerOverall(server, overallState string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	mm.breakerOpen.WithLabelValues(server, overallState).Set(v)
}

// RecordCredentialRefresh records a credential refresh outcome for a server.
func (mm *MetricsManager) RecordCredentialRefresh(server string, success bool) {
	if success {
		mm.credentialRefreshes.WithLabelValues(server).Inc()
		return
	}
	mm.credentialFailures.WithLabelValues(server).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
