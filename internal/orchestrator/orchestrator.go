// Package orchestrator implements the dual probe orchestrator (C3): it runs
// one MCP probe and one REST probe per server per cycle, retries transient
// failures with backoff, aggregates the pair into a DualHealthResult, and
// atomically updates the circuit breaker and registry — or updates neither
// if the cycle is cancelled, per spec.md §5's cancellation invariant.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/nestymook/healthcoord/internal/breaker"
	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/credprovider"
	"github.com/nestymook/healthcoord/internal/healthtypes"
	mcpprobe "github.com/nestymook/healthcoord/internal/probe/mcp"
	restprobe "github.com/nestymook/healthcoord/internal/probe/rest"
	"github.com/nestymook/healthcoord/internal/registry"
)

// Retry backoff defaults per spec.md §4.3: base=500ms, cap=8s.
const (
	retryBackoffBase = 500 * time.Millisecond
	retryBackoffMax  = 8 * time.Second
)

// MetricsSink receives per-cycle observations. internal/observability's
// MetricsManager satisfies this; tests can stub it.
type MetricsSink interface {
	RecordProbe(server, path string, success bool, errorKind string, duration time.Duration)
	SetHealthScore(server string, score float64)
	RecordBreakerTransition(server, path, toState string)
	SetBreakerOverall(server, overallState string, open bool)
}

// Orchestrator runs dual-probe cycles across the configured server set.
//
// Grounded on the teacher's internal/upstream/manager.go scheduling loop
// (bounded reconnect goroutines, one state machine per upstream) and
// upstream/client.go's ListTools circuit integration (defer-based breaker
// bookkeeping around the call) — generalized here to two independent probes
// per server feeding one shared breaker, with bounded concurrency via
// golang.org/x/sync/semaphore and fan-out via golang.org/x/sync/errgroup.
type Orchestrator struct {
	log *zap.Logger

	creds    *credprovider.Provider
	mcp      *mcpprobe.Client
	rest     *restprobe.Client
	breaker  *breaker.DualCircuitBreaker
	registry *registry.Registry
	metrics  MetricsSink

	agg       config.AggregationConfig
	scheduler config.SchedulerConfig

	serverSem *semaphore.Weighted

	// cycleGroup serializes cycles per server (spec.md §5: "at most one
	// cycle in flight ... enforced by per-server probe cap = 2 plus
	// single-flight cycle lock"). It coalesces a manual trigger
	// (internal/httpapi's /servers/{name}/check) against a concurrently
	// running ticker-driven cycle for the same server into one execution.
	cycleGroup singleflight.Group
}

// New builds an Orchestrator. metrics may be nil to disable metric emission.
func New(
	log *zap.Logger,
	creds *credprovider.Provider,
	br *breaker.DualCircuitBreaker,
	reg *registry.Registry,
	metrics MetricsSink,
	agg config.AggregationConfig,
	scheduler config.SchedulerConfig,
) *Orchestrator {
	return &Orchestrator{
		log:       log,
		creds:     creds,
		mcp:       mcpprobe.NewClient(),
		rest:      restprobe.NewClient(),
		breaker:   br,
		registry:  reg,
		metrics:   metrics,
		agg:       agg,
		scheduler: scheduler,
		serverSem: semaphore.NewWeighted(int64(maxInt(1, scheduler.MaxConcurrentServers))),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CheckMany runs one cycle for every server in servers, bounded by the
// orchestrator's global concurrency cap, and returns once every server has
// either completed or been cancelled via ctx. A cancelled ctx produces no
// registry or breaker updates for servers whose cycle had not yet completed
// (spec.md §8's cancellation property): errgroup's context propagation means
// in-flight probes see ctx.Done() and abandon their result before Record is
// reached.
func (o *Orchestrator) CheckMany(ctx context.Context, servers []config.ServerConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		server := servers[i]
		g.Go(func() error {
			if err := o.serverSem.Acquire(gctx, 1); err != nil {
				return nil // context cancelled while queued; not a cycle failure
			}
			defer o.serverSem.Release(1)
			o.CheckOne(gctx, &server)
			return nil
		})
	}
	return g.Wait()
}

// CheckOne runs a single dual-probe cycle for one server, serialized with
// any other concurrent CheckOne call for the same server name: a manual
// trigger arriving mid-cycle coalesces onto the in-flight cycle and waits
// for it rather than launching a second, overlapping set of probes (spec.md
// §5's single-flight cycle lock).
func (o *Orchestrator) CheckOne(ctx context.Context, server *config.ServerConfig) {
	_, _, _ = o.cycleGroup.Do(server.Name, func() (any, error) {
		o.checkOneLocked(ctx, server)
		return nil, nil
	})
}

// checkOneLocked is CheckOne's body: it skips paths whose sub-breaker is
// open, probes the remaining paths concurrently with their own per-path
// deadlines and retries, aggregates the results, and atomically records the
// outcome to the breaker and registry. If ctx is cancelled before
// aggregation completes, it returns without touching either. If both paths
// are still OPEN once their cooldowns have been checked, no probe is
// attempted at all and a synthesized UNHEALTHY result is recorded directly,
// per spec.md §4.3 step 1.
func (o *Orchestrator) checkOneLocked(ctx context.Context, server *config.ServerConfig) {
	now := time.Now()
	log := o.log.With(zap.String("server", server.Name))

	allowMCP := server.MCPEnabled && o.breaker.AllowMCP(server.Name, now)
	allowREST := server.RESTEnabled && o.breaker.AllowREST(server.Name, now)

	state := o.breaker.State(server.Name)
	if server.MCPEnabled && server.RESTEnabled && state.OverallState == healthtypes.OverallOpen {
		result := &healthtypes.DualHealthResult{
			ServerName:     server.Name,
			Timestamp:      now,
			OverallStatus:  healthtypes.StatusUnhealthy,
			AvailablePaths: []string{"none"},
			SkippedReason:  "circuit_open",
		}
		log.Debug("both paths circuit-open, skipping probes entirely")
		o.registry.Record(result)
		if o.metrics != nil {
			o.metrics.SetHealthScore(server.Name, 0)
			o.metrics.SetBreakerOverall(server.Name, string(state.OverallState), true)
		}
		return
	}

	sem := semaphore.NewWeighted(int64(maxInt(1, o.scheduler.MaxConcurrentProbesPerSvr)))
	g, gctx := errgroup.WithContext(ctx)

	var mcpResult *healthtypes.MCPProbeResult
	var restResult *healthtypes.RESTProbeResult

	if allowMCP {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			mcpResult = o.runMCPWithRetry(gctx, server)
			return nil
		})
	}
	if allowREST {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			restResult = o.runRESTWithRetry(gctx, server)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		log.Debug("cycle cancelled before aggregation, discarding partial results")
		return
	}

	// A path whose circuit is open is skipped outright: its result stays
	// absent (not a synthesized failure), matching spec.md §3's "mcp_result
	// absent and does not contribute to score" invariant for a disabled
	// path, generalized to a cycle-skipped one (spec.md §8 scenario S4).
	result := aggregate(server, o.agg, mcpResult, restResult, allowMCP, allowREST)
	if !allowMCP && server.MCPEnabled {
		result.SkippedReason = "mcp_circuit_open"
	}
	if !allowREST && server.RESTEnabled {
		if result.SkippedReason != "" {
			result.SkippedReason += ","
		}
		result.SkippedReason += "rest_circuit_open"
	}
	o.record(server, result, mcpResult, restResult, now)
}

func (o *Orchestrator) runMCPWithRetry(ctx context.Context, server *config.ServerConfig) *healthtypes.MCPProbeResult {
	var last *healthtypes.MCPProbeResult
	attempts := maxInt(1, server.MCPRetries())
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(backoffDelay(attempt-1, retryBackoffBase, retryBackoffMax)):
			}
		}
		headers, err := o.creds.AuthHeaders(ctx, server)
		if err != nil {
			last = &healthtypes.MCPProbeResult{ServerName: server.Name, Timestamp: time.Now(), ErrorKind: healthtypes.ErrAuth, ConnectionError: err.Error()}
			break
		}
		probeCtx, cancel := context.WithTimeout(ctx, server.MCPTimeout())
		result, _ := o.mcp.Probe(probeCtx, server, headers)
		cancel()
		last = result
		if result.Success || !result.ErrorKind.Retryable() {
			break
		}
	}
	return last
}

func (o *Orchestrator) runRESTWithRetry(ctx context.Context, server *config.ServerConfig) *healthtypes.RESTProbeResult {
	var last *healthtypes.RESTProbeResult
	attempts := maxInt(1, server.RESTRetries())
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(backoffDelay(attempt-1, retryBackoffBase, retryBackoffMax)):
			}
		}
		headers, err := o.creds.AuthHeaders(ctx, server)
		if err != nil {
			last = &healthtypes.RESTProbeResult{ServerName: server.Name, Timestamp: time.Now(), ErrorKind: healthtypes.ErrAuth, ConnectionError: err.Error()}
			break
		}
		probeCtx, cancel := context.WithTimeout(ctx, server.RESTTimeout())
		result, _ := o.rest.Probe(probeCtx, server, headers)
		cancel()
		last = result
		if result.Success || !result.ErrorKind.Retryable() {
			break
		}
	}
	return last
}

func (o *Orchestrator) record(server *config.ServerConfig, result *healthtypes.DualHealthResult, mcp *healthtypes.MCPProbeResult, rest *healthtypes.RESTProbeResult, now time.Time) {
	if server.MCPEnabled && mcp != nil {
		newState, changed := o.breaker.RecordMCP(server.Name, mcp.Success, now)
		if o.metrics != nil {
			o.metrics.RecordProbe(server.Name, "mcp", mcp.Success, string(mcp.ErrorKind), time.Duration(mcp.LatencyMS)*time.Millisecond)
			if changed {
				o.metrics.RecordBreakerTransition(server.Name, "mcp", string(newState))
			}
		}
	}
	if server.RESTEnabled && rest != nil {
		newState, changed := o.breaker.RecordREST(server.Name, rest.Success, now)
		if o.metrics != nil {
			o.metrics.RecordProbe(server.Name, "rest", rest.Success, string(rest.ErrorKind), time.Duration(rest.LatencyMS)*time.Millisecond)
			if changed {
				o.metrics.RecordBreakerTransition(server.Name, "rest", string(newState))
			}
		}
	}

	state := o.breaker.State(server.Name)
	if o.metrics != nil {
		o.metrics.SetHealthScore(server.Name, result.HealthScore)
		o.metrics.SetBreakerOverall(server.Name, string(state.OverallState), state.OverallState != healthtypes.OverallClosed)
	}

	o.registry.Record(result)
}
