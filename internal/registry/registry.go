// Package registry implements the coordinator's health registry (C5): the
// in-memory, authoritative store of each server's latest DualHealthResult
// and CircuitState plus a bounded rolling window of samples per path, used
// to serve the read API and compute per-server/system metrics.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/nestymook/healthcoord/internal/healthtypes"
)

// PathMetrics summarizes one path's rolling window, per spec.md §3's
// MetricsWindow.
type PathMetrics struct {
	SampleCount  int     `json:"sample_count"`
	SuccessCount int     `json:"success_count"`
	SuccessRate  float64 `json:"success_rate"`
	P50LatencyMS int64   `json:"p50_latency_ms"`
	P95LatencyMS int64   `json:"p95_latency_ms"`
	P99LatencyMS int64   `json:"p99_latency_ms"`
}

// ServerMetrics is the MCP/REST MetricsWindow pair for one server.
type ServerMetrics struct {
	ServerName string      `json:"server_name"`
	MCP        PathMetrics `json:"mcp"`
	REST       PathMetrics `json:"rest"`
}

// SystemSummary is the system-wide read-API rollup.
type SystemSummary struct {
	ServersTotal     int `json:"servers_total"`
	ServersHealthy   int `json:"servers_healthy"`
	ServersDegraded  int `json:"servers_degraded"`
	ServersUnhealthy int `json:"servers_unhealthy"`
	ServersUnknown   int `json:"servers_unknown"`
}

// ring is a fixed-capacity FIFO sample window, per spec.md §4.5's "no
// persistent storage of historical health" Non-goal.
type ring struct {
	capacity int
	samples  []healthtypes.Sample
	next     int
	full     bool
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{capacity: capacity, samples: make([]healthtypes.Sample, capacity)}
}

func (r *ring) add(s healthtypes.Sample) {
	r.samples[r.next] = s
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) all() []healthtypes.Sample {
	if !r.full {
		return append([]healthtypes.Sample(nil), r.samples[:r.next]...)
	}
	out := make([]healthtypes.Sample, 0, r.capacity)
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

type serverRecord struct {
	latest  *healthtypes.DualHealthResult
	history []*healthtypes.DualHealthResult
	mcp     *ring
	rest    *ring
}

// Registry is the in-memory health registry. All reads and writes are
// synchronized; one Registry instance is shared by the orchestrator
// (writer) and the HTTP read API (reader).
//
// Grounded on the teacher's internal/observability/manager.go atomic
// registration/swap pattern, generalized from component health-checkers to
// per-server dual probe results, plus the retention/window semantics of
// spec.md §4.5.
type Registry struct {
	mu              sync.RWMutex
	servers         map[string]*serverRecord
	windowCapacity  int
	retention       time.Duration
	historyCapacity int

	now func() time.Time
}

// New builds a Registry with the given per-path sample window capacity and
// sample retention duration.
func New(windowCapacity int, retention time.Duration) *Registry {
	if windowCapacity < 1 {
		windowCapacity = 100
	}
	return &Registry{
		servers:         make(map[string]*serverRecord),
		windowCapacity:  windowCapacity,
		retention:       retention,
		historyCapacity: windowCapacity,
		now:             time.Now,
	}
}

func (r *Registry) entry(name string) *serverRecord {
	s, ok := r.servers[name]
	if !ok {
		s = &serverRecord{mcp: newRing(r.windowCapacity), rest: newRing(r.windowCapacity)}
		r.servers[name] = s
	}
	return s
}

// Record stores the outcome of one orchestrator cycle for a server,
// appending to its rolling windows and bounded history. A cancelled cycle
// must never reach Record — the orchestrator only calls this for a
// completed aggregation, per spec.md §5's cancellation invariant.
func (r *Registry) Record(result *healthtypes.DualHealthResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(result.ServerName)
	s.latest = result
	s.history = append(s.history, result)
	if len(s.history) > r.historyCapacity {
		s.history = s.history[len(s.history)-r.historyCapacity:]
	}

	if result.MCPResult != nil {
		s.mcp.add(healthtypes.Sample{
			Timestamp: result.MCPResult.Timestamp,
			Success:   result.MCPResult.Success,
			LatencyMS: result.MCPResult.LatencyMS,
			ErrorKind: result.MCPResult.ErrorKind,
		})
	}
	if result.RESTResult != nil {
		s.rest.add(healthtypes.Sample{
			Timestamp: result.RESTResult.Timestamp,
			Success:   result.RESTResult.Success,
			LatencyMS: result.RESTResult.LatencyMS,
			ErrorKind: result.RESTResult.ErrorKind,
		})
	}
}

// LatestByServer returns the latest DualHealthResult for name, and false if
// the server has never produced one.
func (r *Registry) LatestByServer(name string) (*healthtypes.DualHealthResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[name]
	if !ok || s.latest == nil {
		return nil, false
	}
	return s.latest, true
}

// AllLatest returns the latest DualHealthResult for every known server.
func (r *Registry) AllLatest() []*healthtypes.DualHealthResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*healthtypes.DualHealthResult, 0, len(r.servers))
	for _, s := range r.servers {
		if s.latest != nil {
			out = append(out, s.latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerName < out[j].ServerName })
	return out
}

// History returns up to limit most-recent results for name, newest last. A
// limit <= 0 returns the full retained history.
func (r *Registry) History(name string, limit int) []*healthtypes.DualHealthResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[name]
	if !ok {
		return nil
	}
	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*healthtypes.DualHealthResult, len(h))
	copy(out, h)
	return out
}

// MetricsByServer computes the MCP/REST rolling-window metrics for name,
// applying the registry's retention cutoff before aggregating.
func (r *Registry) MetricsByServer(name string) (ServerMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[name]
	if !ok {
		return ServerMetrics{}, false
	}
	cutoff := r.now().Add(-r.retention)
	return ServerMetrics{
		ServerName: name,
		MCP:        summarize(s.mcp.all(), cutoff),
		REST:       summarize(s.rest.all(), cutoff),
	}, true
}

func summarize(samples []healthtypes.Sample, cutoff time.Time) PathMetrics {
	var kept []healthtypes.Sample
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return PathMetrics{}
	}
	latencies := make([]int64, 0, len(kept))
	successCount := 0
	for _, s := range kept {
		latencies = append(latencies, s.LatencyMS)
		if s.Success {
			successCount++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return PathMetrics{
		SampleCount:  len(kept),
		SuccessCount: successCount,
		SuccessRate:  float64(successCount) / float64(len(kept)),
		P50LatencyMS: percentile(latencies, 0.50),
		P95LatencyMS: percentile(latencies, 0.95),
		P99LatencyMS: percentile(latencies, 0.99),
	}
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SystemSummary rolls every known server's latest status up into counts for
// the system-wide read-API endpoint.
func (r *Registry) SystemSummary() SystemSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum SystemSummary
	for _, s := range r.servers {
		sum.ServersTotal++
		if s.latest == nil {
			sum.ServersUnknown++
			continue
		}
		switch s.latest.OverallStatus {
		case healthtypes.StatusHealthy:
			sum.ServersHealthy++
		case healthtypes.StatusDegraded:
			sum.ServersDegraded++
		case healthtypes.StatusUnhealthy:
			sum.ServersUnhealthy++
		default:
			sum.ServersUnknown++
		}
	}
	return sum
}

// Seed pre-populates the latest result for name from a restart-rehydration
// snapshot, without touching the rolling windows (those start cold — only
// the latest known status is carried forward, per SPEC_FULL.md §11).
func (r *Registry) Seed(result *healthtypes.DualHealthResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(result.ServerName)
	s.latest = result
	s.history = append(s.history, result)
}
