package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestymook/healthcoord/internal/healthtypes"
)

func dhr(name string, status healthtypes.OverallStatus, mcpLatency int64, ts time.Time) *healthtypes.DualHealthResult {
	return &healthtypes.DualHealthResult{
		ServerName:    name,
		Timestamp:     ts,
		OverallStatus: status,
		MCPResult:     &healthtypes.MCPProbeResult{ServerName: name, Timestamp: ts, Success: status != healthtypes.StatusUnhealthy, LatencyMS: mcpLatency},
	}
}

func TestRegistry_LatestByServer(t *testing.T) {
	r := New(10, time.Hour)
	_, ok := r.LatestByServer("svc")
	assert.False(t, ok)

	r.Record(dhr("svc", healthtypes.StatusHealthy, 10, time.Now()))
	result, ok := r.LatestByServer("svc")
	require.True(t, ok)
	assert.Equal(t, healthtypes.StatusHealthy, result.OverallStatus)
}

func TestRegistry_LatestReplacedNotMutated(t *testing.T) {
	r := New(10, time.Hour)
	first := dhr("svc", healthtypes.StatusHealthy, 10, time.Now())
	r.Record(first)
	second := dhr("svc", healthtypes.StatusUnhealthy, 20, time.Now())
	r.Record(second)

	latest, _ := r.LatestByServer("svc")
	assert.Equal(t, healthtypes.StatusUnhealthy, latest.OverallStatus)
	assert.Equal(t, healthtypes.StatusHealthy, first.OverallStatus, "the previous record object itself is never mutated in place")
}

func TestRegistry_WindowNeverExceedsCapacity(t *testing.T) {
	r := New(5, time.Hour)
	for i := 0; i < 50; i++ {
		r.Record(dhr("svc", healthtypes.StatusHealthy, int64(i), time.Now()))
	}
	metrics, ok := r.MetricsByServer("svc")
	require.True(t, ok)
	assert.LessOrEqual(t, metrics.MCP.SampleCount, 5)
	assert.Equal(t, 5, metrics.MCP.SampleCount)
}

func TestRegistry_MetricsSuccessRateAndPercentiles(t *testing.T) {
	r := New(100, time.Hour)
	now := time.Now()
	for i := 1; i <= 10; i++ {
		status := healthtypes.StatusHealthy
		if i <= 3 {
			status = healthtypes.StatusUnhealthy
		}
		r.Record(dhr("svc", status, int64(i*10), now))
	}
	metrics, ok := r.MetricsByServer("svc")
	require.True(t, ok)
	assert.Equal(t, 10, metrics.MCP.SampleCount)
	assert.InDelta(t, 0.7, metrics.MCP.SuccessRate, 1e-9)
	assert.Greater(t, metrics.MCP.P99LatencyMS, metrics.MCP.P50LatencyMS)
}

func TestRegistry_SystemSummary(t *testing.T) {
	r := New(10, time.Hour)
	r.Record(dhr("a", healthtypes.StatusHealthy, 1, time.Now()))
	r.Record(dhr("b", healthtypes.StatusDegraded, 1, time.Now()))
	r.Record(dhr("c", healthtypes.StatusUnhealthy, 1, time.Now()))

	sum := r.SystemSummary()
	assert.Equal(t, 3, sum.ServersTotal)
	assert.Equal(t, 1, sum.ServersHealthy)
	assert.Equal(t, 1, sum.ServersDegraded)
	assert.Equal(t, 1, sum.ServersUnhealthy)
}

func TestRegistry_AllLatestSortedByName(t *testing.T) {
	r := New(10, time.Hour)
	r.Record(dhr("zebra", healthtypes.StatusHealthy, 1, time.Now()))
	r.Record(dhr("apple", healthtypes.StatusHealthy, 1, time.Now()))

	all := r.AllLatest()
	require.Len(t, all, 2)
	assert.Equal(t, "apple", all[0].ServerName)
	assert.Equal(t, "zebra", all[1].ServerName)
}

func TestRegistry_RetentionExcludesStaleSamples(t *testing.T) {
	r := New(10, time.Hour)
	r.now = func() time.Time { return time.Now() }

	stale := time.Now().Add(-2 * time.Hour)
	r.Record(dhr("svc", healthtypes.StatusHealthy, 1, stale))

	metrics, ok := r.MetricsByServer("svc")
	require.True(t, ok)
	assert.Equal(t, 0, metrics.MCP.SampleCount, "samples older than retention must be excluded")
}

// Idempotence of read API: two successive calls with no intervening Record
// return equal results (spec.md §8).
func TestRegistry_ReadIdempotence(t *testing.T) {
	r := New(10, time.Hour)
	r.Record(dhr("svc", healthtypes.StatusHealthy, 1, time.Now()))

	a, _ := r.LatestByServer("svc")
	b, _ := r.LatestByServer("svc")
	assert.Equal(t, a, b)
}
