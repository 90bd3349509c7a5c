// Package breaker implements the coordinator's two-dimensional circuit
// breaker (C4): one sub-breaker per probe path (MCP, REST) per server, plus
// a derived overall state that can represent a server being reachable on
// only one of its two paths.
package breaker

import (
	"sync"
	"time"

	"github.com/nestymook/healthcoord/internal/healthtypes"
)

// pathBreaker is a single CLOSED/OPEN/HALF_OPEN breaker for one probe path.
//
// Grounded on the teacher's internal/upstream.Client list-tools circuit
// fields (listToolsCircuitOpen/listToolsFailureCount/listToolsLastFailure):
// same failure-count-then-open shape, generalized from a hardcoded
// threshold-of-3/exponential-backoff-capped-at-10m to the configured
// threshold/open-duration, and extended with an explicit HALF_OPEN trial
// state the teacher's two-state version didn't need.
type pathBreaker struct {
	state        healthtypes.PathState
	failureCount int
	openedAt     time.Time
	halfOpenTrial bool
}

func newPathBreaker() *pathBreaker {
	return &pathBreaker{state: healthtypes.PathClosed}
}

// recordResult advances the sub-breaker given one probe's outcome. It
// returns true if the state changed.
func (p *pathBreaker) recordResult(success bool, threshold int, openDuration time.Duration, now time.Time) bool {
	before := p.state
	switch p.state {
	case healthtypes.PathClosed:
		if success {
			p.failureCount = 0
		} else {
			p.failureCount++
			if p.failureCount >= threshold {
				p.state = healthtypes.PathOpen
				p.openedAt = now
			}
		}
	case healthtypes.PathOpen:
		// recordResult should not be called while open; trial admission is
		// gated by readyForTrial. Defensive no-op.
	case healthtypes.PathHalfOpen:
		p.halfOpenTrial = false
		if success {
			p.state = healthtypes.PathClosed
			p.failureCount = 0
		} else {
			p.state = healthtypes.PathOpen
			p.openedAt = now
			p.failureCount = threshold
		}
	}
	return before != p.state
}

// readyForTrial reports whether an OPEN breaker's cooldown has elapsed, and
// if so, coalesces the transition to HALF_OPEN and grants this caller the
// (only) trial probe slot.
func (p *pathBreaker) readyForTrial(openDuration time.Duration, now time.Time) bool {
	switch p.state {
	case healthtypes.PathClosed:
		return true
	case healthtypes.PathHalfOpen:
		return false // a trial is already in flight
	case healthtypes.PathOpen:
		if now.Sub(p.openedAt) < openDuration {
			return false
		}
		p.state = healthtypes.PathHalfOpen
		p.halfOpenTrial = true
		return true
	}
	return false
}

// DualCircuitBreaker tracks independent MCP/REST sub-breakers for every
// known server and derives the overall state table from spec.md §4.4.
type DualCircuitBreaker struct {
	mu               sync.Mutex
	servers          map[string]*serverBreaker
	failureThreshold int
	openDuration     time.Duration
}

type serverBreaker struct {
	mcp          *pathBreaker
	rest         *pathBreaker
	lastChangeAt time.Time
}

// New builds a DualCircuitBreaker using the same failure threshold and open
// duration for every path of every server, per the global
// config.CircuitBreakerConfig.
func New(failureThreshold int, openDuration time.Duration) *DualCircuitBreaker {
	return &DualCircuitBreaker{
		servers:          make(map[string]*serverBreaker),
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
	}
}

func (b *DualCircuitBreaker) entry(name string) *serverBreaker {
	s, ok := b.servers[name]
	if !ok {
		s = &serverBreaker{mcp: newPathBreaker(), rest: newPathBreaker(), lastChangeAt: time.Now()}
		b.servers[name] = s
	}
	return s
}

// Warm registers server with both paths CLOSED if it is not already known,
// so a newly added server has a breaker entry before its first cycle. It
// grants no grace period: failures in the first cycle count toward the
// failure threshold like any other.
func (b *DualCircuitBreaker) Warm(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry(name)
}

// AllowMCP reports whether the MCP path for server may be probed this cycle
// (CLOSED, or OPEN with an elapsed cooldown granting a HALF_OPEN trial).
func (b *DualCircuitBreaker) AllowMCP(name string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry(name).mcp.readyForTrial(b.openDuration, now)
}

// AllowREST is AllowMCP for the REST path.
func (b *DualCircuitBreaker) AllowREST(name string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry(name).rest.readyForTrial(b.openDuration, now)
}

// RecordMCP feeds one MCP probe outcome into server's MCP sub-breaker. It
// returns the sub-breaker's resulting state and whether this call changed it,
// so callers can report a breaker transition exactly once.
func (b *DualCircuitBreaker) RecordMCP(name string, success bool, now time.Time) (healthtypes.PathState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(name)
	changed := s.mcp.recordResult(success, b.failureThreshold, b.openDuration, now)
	if changed {
		s.lastChangeAt = now
	}
	return s.mcp.state, changed
}

// RecordREST is RecordMCP for the REST path.
func (b *DualCircuitBreaker) RecordREST(name string, success bool, now time.Time) (healthtypes.PathState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(name)
	changed := s.rest.recordResult(success, b.failureThreshold, b.openDuration, now)
	if changed {
		s.lastChangeAt = now
	}
	return s.rest.state, changed
}

// State returns the read snapshot for server, deriving OverallState from the
// two sub-breaker states per spec.md §4.4's table:
//
//	both CLOSED            -> CLOSED
//	both OPEN               -> OPEN
//	MCP CLOSED/HALF, REST OPEN -> MCP_ONLY
//	REST CLOSED/HALF, MCP OPEN -> REST_ONLY
//	otherwise (mixed HALF_OPEN) -> DEGRADED
func (b *DualCircuitBreaker) State(name string) healthtypes.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(name)
	return healthtypes.CircuitState{
		ServerName:   name,
		MCPState:     s.mcp.state,
		RESTState:    s.rest.state,
		OverallState: deriveOverall(s.mcp.state, s.rest.state),
		LastChangeAt: s.lastChangeAt,
	}
}

// Seed restores a server's sub-breaker states from a persisted snapshot at
// startup. It does not restore failureCount or the original openedAt, so a
// rehydrated OPEN breaker becomes eligible for its next HALF_OPEN trial one
// full openDuration from process start rather than from when it actually
// tripped.
func (b *DualCircuitBreaker) Seed(state healthtypes.CircuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(state.ServerName)
	s.mcp.state = state.MCPState
	s.rest.state = state.RESTState
	now := time.Now()
	if s.mcp.state == healthtypes.PathOpen {
		s.mcp.openedAt = now
	}
	if s.rest.state == healthtypes.PathOpen {
		s.rest.openedAt = now
	}
	s.lastChangeAt = state.LastChangeAt
}

func deriveOverall(mcp, rest healthtypes.PathState) healthtypes.OverallBreakerState {
	mcpUp := mcp != healthtypes.PathOpen
	restUp := rest != healthtypes.PathOpen
	switch {
	case mcp == healthtypes.PathClosed && rest == healthtypes.PathClosed:
		return healthtypes.OverallClosed
	case !mcpUp && !restUp:
		return healthtypes.OverallOpen
	case mcpUp && !restUp:
		return healthtypes.OverallMCPOnly
	case !mcpUp && restUp:
		return healthtypes.OverallRESTOnly
	default:
		return healthtypes.OverallDegraded
	}
}
