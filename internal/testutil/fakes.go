// Package testutil provides fake MCP/REST servers and an OIDC token
// endpoint for exercising internal/probe, internal/orchestrator, and
// internal/credprovider without a real upstream agent.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
)

// FakeMCPServer is an httptest server that answers tools/list requests and
// can be flipped between healthy and failing between requests.
//
// Grounded on _examples/other_examples' standardbeagle/brummer health
// monitor integration test: an atomic.Bool gate flipped by the test,
// checked per-request, rather than a stateful handshake.
type FakeMCPServer struct {
	*httptest.Server
	healthy atomic.Bool
	tools   []string
}

// NewFakeMCPServer starts a fake MCP server reporting the given tool names
// from tools/list while healthy.
func NewFakeMCPServer(tools ...string) *FakeMCPServer {
	f := &FakeMCPServer{tools: tools}
	f.healthy.Store(true)
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// SetHealthy flips the fake's health for subsequent requests.
func (f *FakeMCPServer) SetHealthy(healthy bool) {
	f.healthy.Store(healthy)
}

type jsonrpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

func (f *FakeMCPServer) handle(w http.ResponseWriter, r *http.Request) {
	var req jsonrpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !f.healthy.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	tools := make([]map[string]any, 0, len(f.tools))
	for _, name := range f.tools {
		tools = append(tools, map[string]any{"name": name, "description": name, "inputSchema": map[string]any{"type": "object"}})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  map[string]any{"tools": tools},
	})
}

// FakeRESTServer is an httptest server answering GET /health with a
// {"status": "..."} body that the test can flip between healthy, degraded,
// and unhealthy.
type FakeRESTServer struct {
	*httptest.Server
	status atomic.Value
}

// NewFakeRESTServer starts a fake REST health server reporting "healthy".
func NewFakeRESTServer() *FakeRESTServer {
	f := &FakeRESTServer{}
	f.status.Store("healthy")
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// SetStatus sets the status value returned by subsequent requests: one of
// "healthy", "degraded", or "unhealthy".
func (f *FakeRESTServer) SetStatus(status string) {
	f.status.Store(status)
}

func (f *FakeRESTServer) handle(w http.ResponseWriter, r *http.Request) {
	status, _ := f.status.Load().(string)
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// FakeTokenServer is an httptest OAuth2 client-credentials token endpoint
// for exercising internal/credprovider without a real identity provider.
type FakeTokenServer struct {
	*httptest.Server
	issueCount atomic.Int64
	fail       atomic.Bool
}

// NewFakeTokenServer starts a fake token endpoint issuing short-lived
// bearer tokens.
func NewFakeTokenServer() *FakeTokenServer {
	f := &FakeTokenServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// SetFail toggles whether the next requests return an error response.
func (f *FakeTokenServer) SetFail(fail bool) {
	f.fail.Store(fail)
}

// IssueCount returns how many tokens have been issued so far, for asserting
// single-flight dedup (spec.md §8's "exactly one refresh" property).
func (f *FakeTokenServer) IssueCount() int64 {
	return f.issueCount.Load()
}

func (f *FakeTokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if f.fail.Load() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	n := f.issueCount.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "fake-token-" + strconv.FormatInt(n, 10),
		"token_type":   "Bearer",
		"expires_in":   2,
	})
}
