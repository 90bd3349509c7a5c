package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nestymook/healthcoord/internal/breaker"
	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/credprovider"
	"github.com/nestymook/healthcoord/internal/healthtypes"
	"github.com/nestymook/healthcoord/internal/registry"
	"github.com/nestymook/healthcoord/internal/testutil"
)

func testOrchestrator(br *breaker.DualCircuitBreaker, reg *registry.Registry) *Orchestrator {
	return New(
		zap.NewNop(),
		credprovider.NewProvider(zap.NewNop()),
		br,
		reg,
		nil,
		config.AggregationConfig{FailureThreshold: 0.5, DegradedThreshold: 0.7},
		config.SchedulerConfig{MaxConcurrentServers: 10, MaxConcurrentProbesPerSvr: 2},
	)
}

func dualServer(mcpURL, restURL string) *config.ServerConfig {
	return &config.ServerConfig{
		Name:                  "svc",
		MCPEndpointURL:        mcpURL,
		RESTHealthEndpointURL: restURL,
		MCPEnabled:            true,
		RESTEnabled:           true,
		MCPExpectedTools:      []string{"a"},
		MCPRetryAttempts:      1,
		RESTRetryAttempts:     1,
		MCPPriorityWeight:     0.6,
		RESTPriorityWeight:    0.4,
	}
}

type fakeMetricsSink struct {
	mu          sync.Mutex
	transitions []string
}

func (f *fakeMetricsSink) RecordProbe(server, path string, success bool, errorKind string, duration time.Duration) {
}
func (f *fakeMetricsSink) SetHealthScore(server string, score float64) {}
func (f *fakeMetricsSink) RecordBreakerTransition(server, path, toState string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, path+":"+toState)
}
func (f *fakeMetricsSink) SetBreakerOverall(server, overallState string, open bool) {}

// A sub-breaker's CLOSED->OPEN transition is reported to the metrics sink
// exactly once, not on every subsequent failing cycle.
func TestOrchestrator_ReportsBreakerTransitionOnlyOnce(t *testing.T) {
	mcp := testutil.NewFakeMCPServer("a")
	defer mcp.Close()
	mcp.SetHealthy(false)
	rest := testutil.NewFakeRESTServer()
	defer rest.Close()

	br := breaker.New(2, time.Minute)
	reg := registry.New(100, 24*time.Hour)
	sink := &fakeMetricsSink{}
	o := New(zap.NewNop(), credprovider.NewProvider(zap.NewNop()), br, reg, sink,
		config.AggregationConfig{FailureThreshold: 0.5, DegradedThreshold: 0.7},
		config.SchedulerConfig{MaxConcurrentServers: 10, MaxConcurrentProbesPerSvr: 2},
	)
	server := dualServer(mcp.URL, rest.URL)
	server.MCPRetryAttempts = 1

	o.CheckOne(context.Background(), server)
	o.CheckOne(context.Background(), server)
	o.CheckOne(context.Background(), server)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	count := 0
	for _, tr := range sink.transitions {
		if tr == "mcp:OPEN" {
			count++
		}
	}
	assert.Equal(t, 1, count, "breaker transition must be reported exactly once")
}

func TestOrchestrator_BothSucceed(t *testing.T) {
	mcp := testutil.NewFakeMCPServer("a")
	defer mcp.Close()
	rest := testutil.NewFakeRESTServer()
	defer rest.Close()

	br := breaker.New(5, 30*time.Second)
	reg := registry.New(100, 24*time.Hour)
	o := testOrchestrator(br, reg)

	o.CheckOne(context.Background(), dualServer(mcp.URL, rest.URL))

	result, ok := reg.LatestByServer("svc")
	require.True(t, ok)
	assert.Equal(t, healthtypes.StatusHealthy, result.OverallStatus)
	assert.Equal(t, []string{"both"}, result.AvailablePaths)
}

// S4 — after failureThreshold consecutive MCP failures the sub-breaker
// opens and the next cycle skips the MCP probe outright.
func TestOrchestrator_CircuitOpensAndSkipsProbe(t *testing.T) {
	mcp := testutil.NewFakeMCPServer("a")
	defer mcp.Close()
	mcp.SetHealthy(false)
	rest := testutil.NewFakeRESTServer()
	defer rest.Close()

	br := breaker.New(3, time.Minute)
	reg := registry.New(100, 24*time.Hour)
	o := testOrchestrator(br, reg)
	server := dualServer(mcp.URL, rest.URL)

	for i := 0; i < 3; i++ {
		o.CheckOne(context.Background(), server)
	}
	require.Equal(t, healthtypes.PathOpen, br.State("svc").MCPState)

	o.CheckOne(context.Background(), server)

	result, ok := reg.LatestByServer("svc")
	require.True(t, ok)
	assert.Nil(t, result.MCPResult, "mcp_result must be absent once the circuit is open")
	assert.Equal(t, []string{"rest"}, result.AvailablePaths)
}

func TestOrchestrator_BothCircuitsOpen_SkipsEntirelyAndMarksUnhealthy(t *testing.T) {
	var calls int
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer slow.Close()

	br := breaker.New(1, time.Hour)
	reg := registry.New(100, 24*time.Hour)
	o := testOrchestrator(br, reg)
	server := dualServer(slow.URL, slow.URL)
	server.MCPRetryAttempts = 1
	server.RESTRetryAttempts = 1

	o.CheckOne(context.Background(), server)
	require.Equal(t, healthtypes.OverallOpen, br.State("svc").OverallState)

	callsBeforeSkip := calls
	o.CheckOne(context.Background(), server)

	assert.Equal(t, callsBeforeSkip, calls, "no outbound probes once both paths are open")
	result, ok := reg.LatestByServer("svc")
	require.True(t, ok)
	assert.Equal(t, healthtypes.StatusUnhealthy, result.OverallStatus)
	assert.Equal(t, "circuit_open", result.SkippedReason)
	assert.Equal(t, []string{"none"}, result.AvailablePaths)
}

// Cancellation of a cycle produces no registry update and no circuit-breaker
// update (spec.md §8, property 7).
func TestOrchestrator_CancellationProducesNoRecord(t *testing.T) {
	mcp := testutil.NewFakeMCPServer("a")
	defer mcp.Close()
	rest := testutil.NewFakeRESTServer()
	defer rest.Close()

	br := breaker.New(5, 30*time.Second)
	reg := registry.New(100, 24*time.Hour)
	o := testOrchestrator(br, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o.CheckOne(ctx, dualServer(mcp.URL, rest.URL))

	_, ok := reg.LatestByServer("svc")
	assert.False(t, ok, "a cancelled cycle must not reach the registry")
	assert.Equal(t, healthtypes.PathClosed, br.State("svc").MCPState)
}

// S5 — ten concurrent credential lookups through the orchestrator's provider,
// for a server with no cached token, must trigger exactly one token request
// against the IdP. (Concurrent CheckOne calls for one server coalesce into a
// single cycle, so the lookups are issued directly.)
func TestOrchestrator_SingleFlightCredentialRefresh(t *testing.T) {
	mcp := testutil.NewFakeMCPServer("a")
	defer mcp.Close()
	rest := testutil.NewFakeRESTServer()
	defer rest.Close()
	tokenSrv := testutil.NewFakeTokenServer()
	defer tokenSrv.Close()

	br := breaker.New(5, 30*time.Second)
	reg := registry.New(100, 24*time.Hour)
	creds := credprovider.NewProvider(zap.NewNop())
	o := New(zap.NewNop(), creds, br, reg, nil,
		config.AggregationConfig{FailureThreshold: 0.5, DegradedThreshold: 0.7},
		config.SchedulerConfig{MaxConcurrentServers: 20, MaxConcurrentProbesPerSvr: 2},
	)

	server := dualServer(mcp.URL, rest.URL)
	server.Auth = config.AuthConfig{
		Type:         config.AuthOAuth2,
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.creds.AuthHeaders(context.Background(), server)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), tokenSrv.IssueCount())
}

// spec.md §5: "at most one cycle in flight" per server. Several concurrent
// CheckOne calls for the same server (standing in for a manual
// /servers/{name}/check trigger racing the ticker-driven cycle) must
// coalesce into a single cycle's worth of outbound probes, not one set per
// caller.
func TestOrchestrator_CheckOneSerializesPerServer(t *testing.T) {
	var mcpCalls, restCalls int64
	mcp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&mcpCalls, 1)
		time.Sleep(30 * time.Millisecond)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"tools": []any{map[string]any{"name": "a", "description": "a"}}},
		})
	}))
	defer mcp.Close()
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&restCalls, 1)
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer rest.Close()

	br := breaker.New(5, 30*time.Second)
	reg := registry.New(100, 24*time.Hour)
	o := testOrchestrator(br, reg)
	server := dualServer(mcp.URL, rest.URL)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.CheckOne(context.Background(), server)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&mcpCalls), "concurrent CheckOne calls for one server must coalesce into one cycle's MCP probe")
	assert.Equal(t, int64(1), atomic.LoadInt64(&restCalls), "concurrent CheckOne calls for one server must coalesce into one cycle's REST probe")
}
