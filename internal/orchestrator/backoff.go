package orchestrator

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay returns the capped exponential backoff with jitter for retry
// attempt (0-indexed), per spec.md §4.3's retry policy: delay_n = min(base *
// 2^(n-1) * jitter, cap), jitter in [0.8, 1.2].
//
// Grounded on the teacher's internal/upstream/manager.go Docker-reconnect
// backoff table (getDockerRetryInterval), generalized from a fixed lookup
// table of five intervals to a formula with the same shape: doubling,
// capped, with multiplicative jitter so that many servers retrying in the
// same cycle don't all re-probe in lockstep — the jitter can shrink the
// delay below the pure exponential value as well as extend it.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	jitter := 0.8 + rand.Float64()*0.4
	delay *= jitter
	if delay > float64(cap) || delay <= 0 {
		return cap
	}
	return time.Duration(delay)
}
