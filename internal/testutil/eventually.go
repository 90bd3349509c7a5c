package testutil

import (
	"testing"
	"time"
)

// RequireEventually polls cond until it returns true or timeout elapses,
// failing the test if it never does. Grounded on the same
// other_examples health-monitor integration test's polling idiom, built
// directly on testify's require semantics (fails immediately, no further
// test code runs).
func RequireEventually(t *testing.T, cond func() bool, timeout, interval time.Duration, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s: %v", timeout, msgAndArgs)
		}
		time.Sleep(interval)
	}
}
