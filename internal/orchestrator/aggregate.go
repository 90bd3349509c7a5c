package orchestrator

import (
	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/healthtypes"
)

// aggregate combines one cycle's MCP and REST probe results into the
// canonical DualHealthResult, per spec.md §4.3's aggregation rule. It is a
// pure function of its inputs: the same two probe results and the same
// mcpRan/restRan flags always produce the same DualHealthResult (spec.md
// §8's aggregation-purity property). mcpRan/restRan record whether that
// path was actually probed this cycle — false both for a path disabled in
// config and for one skipped because its circuit is open — so a
// circuit-skipped path drops out of weight normalization exactly like a
// disabled one, per spec.md §3's "does not contribute to score" invariant.
func aggregate(server *config.ServerConfig, agg config.AggregationConfig, mcp *healthtypes.MCPProbeResult, rest *healthtypes.RESTProbeResult, mcpRan, restRan bool) *healthtypes.DualHealthResult {
	result := &healthtypes.DualHealthResult{
		ServerName: server.Name,
		MCPResult:  mcp,
		RESTResult: rest,
	}
	if mcp != nil {
		result.Timestamp = mcp.Timestamp
		result.MCPSuccess = mcp.Success
	}
	if rest != nil {
		if result.Timestamp.IsZero() || rest.Timestamp.Before(result.Timestamp) {
			result.Timestamp = rest.Timestamp
		}
		result.RESTSuccess = rest.Success
	}

	if mcp == nil && rest == nil {
		result.OverallStatus = healthtypes.StatusUnknown
		result.AvailablePaths = []string{"none"}
		return result
	}

	result.AvailablePaths = healthtypes.AvailablePathsFrom(mcpRan, restRan, result.MCPSuccess, result.RESTSuccess)

	mcpScore := pathScore(mcpRan, result.MCPSuccess)
	restScore := pathScore(restRan, result.RESTSuccess)
	mcpWeight, restWeight := server.WeightsFor(mcpRan, restRan)

	mode := server.AggregationMode
	if mode == "" {
		mode = agg.DefaultMode
	}
	if mode == "" {
		mode = config.ModeWeightedAverage
	}

	switch mode {
	case config.ModeMinimum:
		result.HealthScore = minScore(mcpRan, restRan, mcpScore, restScore)
	case config.ModeMaximum:
		result.HealthScore = maxScore(mcpRan, restRan, mcpScore, restScore)
	default:
		result.HealthScore = mcpWeight*mcpScore + restWeight*restScore
	}

	// combined_latency_ms is the max of the two present results, per
	// spec.md §3 (the cycle's wall-clock cost is bounded by the slower
	// path, since both probes run concurrently).
	if mcp != nil {
		result.CombinedLatMS = mcp.LatencyMS
	}
	if rest != nil && rest.LatencyMS > result.CombinedLatMS {
		result.CombinedLatMS = rest.LatencyMS
	}

	result.OverallStatus = classify(server, agg, result)
	result.OverallSuccess = result.OverallStatus == healthtypes.StatusHealthy

	return result
}

func pathScore(ran, success bool) float64 {
	if !ran {
		return 0
	}
	if success {
		return 1
	}
	return 0
}

func minScore(mcpRan, restRan bool, mcp, rest float64) float64 {
	vals := ranScores(mcpRan, restRan, mcp, rest)
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxScore(mcpRan, restRan bool, mcp, rest float64) float64 {
	vals := ranScores(mcpRan, restRan, mcp, rest)
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func ranScores(mcpRan, restRan bool, mcp, rest float64) []float64 {
	var vals []float64
	if mcpRan {
		vals = append(vals, mcp)
	}
	if restRan {
		vals = append(vals, rest)
	}
	return vals
}

// classify derives the OverallStatus from the aggregated score and the
// require-both-success override, per spec.md §4.3's classification table.
// require_both_success_for_healthy only gates the HEALTHY branch ("HEALTHY
// if health_score >= degraded_threshold AND (not require_both OR both
// succeeded)"); DEGRADED and UNHEALTHY remain pure score-threshold
// comparisons regardless of require_both, even with skewed path weights.
func classify(server *config.ServerConfig, agg config.AggregationConfig, result *healthtypes.DualHealthResult) healthtypes.OverallStatus {
	healthyEligible := true
	if server.RequireBothSuccessForHealthy && server.MCPEnabled && server.RESTEnabled {
		healthyEligible = result.MCPSuccess && result.RESTSuccess
	}

	switch {
	case result.HealthScore >= agg.DegradedThreshold && healthyEligible:
		return healthtypes.StatusHealthy
	case result.HealthScore >= agg.FailureThreshold:
		return healthtypes.StatusDegraded
	default:
		return healthtypes.StatusUnhealthy
	}
}
