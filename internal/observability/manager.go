package observability

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for observability features.
//
// Grounded on the teacher's internal/observability/manager.go Config; the
// Tracing section is dropped entirely per SPEC_FULL.md's Non-goal ("not a
// tracer") rather than adapted, since no component in this domain emits
// spans.
type Config struct {
	Health  HealthConfig  `json:"health"`
	Metrics MetricsConfig `json:"metrics"`
}

// HealthConfig holds configuration for process-level health checks.
type HealthConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"timeout"`
}

// MetricsConfig holds configuration for the Prometheus surface.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns the default observability configuration.
func DefaultConfig() Config {
	return Config{
		Health:  HealthConfig{Enabled: true, Timeout: 5 * time.Second},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Manager coordinates the coordinator's process-level observability surface:
// liveness/readiness and Prometheus metrics. It is distinct from
// internal/registry, which serves the per-agent DualHealthResult read API.
type Manager struct {
	logger  *zap.Logger
	config  Config
	health  *HealthManager
	metrics *MetricsManager

	startTime time.Time
}

// NewManager builds an observability Manager.
func NewManager(logger *zap.Logger, config Config) *Manager {
	m := &Manager{logger: logger, config: config, startTime: time.Now()}

	if config.Health.Enabled {
		m.health = NewHealthManager(logger.Sugar())
		m.health.SetTimeout(config.Health.Timeout)
	}
	if config.Metrics.Enabled {
		m.metrics = NewMetricsManager(logger)
	}
	return m
}

// Health returns the health manager, or nil if health checks are disabled.
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager, or nil if metrics are disabled.
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// RegisterHealthChecker registers a liveness checker.
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	if m.health != nil {
		m.health.AddHealthChecker(checker)
	}
}

// RegisterReadinessChecker registers a readiness checker.
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	if m.health != nil {
		m.health.AddReadinessChecker(checker)
	}
}

// SetupHTTPHandlers mounts /healthz, /readyz, and /metrics on mux.
func (m *Manager) SetupHTTPHandlers(mux *http.ServeMux) {
	if m.health != nil {
		mux.HandleFunc("/healthz", m.health.HealthzHandler())
		mux.HandleFunc("/readyz", m.health.ReadyzHandler())
	}
	if m.metrics != nil {
		mux.Handle("/metrics", m.metrics.Handler())
	}
}

// Tick refreshes point-in-time metrics (uptime); called once per scheduler
// cycle by cmd/healthcoordd's runCycle.
func (m *Manager) Tick() {
	if m.metrics != nil {
		m.metrics.SetUptime(m.startTime)
	}
}

// IsHealthy reports whether all liveness checks pass.
func (m *Manager) IsHealthy() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsHealthy()
}

// IsReady reports whether all readiness checks pass.
func (m *Manager) IsReady() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsReady()
}
