package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nestymook/healthcoord/internal/breaker"
	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/healthtypes"
	"github.com/nestymook/healthcoord/internal/registry"
)

type fakeChecker struct {
	called  bool
	lastSvr string
}

func (f *fakeChecker) CheckOne(ctx context.Context, server *config.ServerConfig) {
	f.called = true
	f.lastSvr = server.Name
}

type fakeConfigs struct {
	servers map[string]*config.ServerConfig
}

func (f *fakeConfigs) ServerByName(name string) (*config.ServerConfig, bool) {
	s, ok := f.servers[name]
	return s, ok
}

func newTestAPI(t *testing.T) (*API, *registry.Registry, *fakeChecker) {
	t.Helper()
	reg := registry.New(10, time.Hour)
	br := breaker.New(5, 30*time.Second)
	checker := &fakeChecker{}
	configs := &fakeConfigs{servers: map[string]*config.ServerConfig{
		"svc": {Name: "svc", MCPEnabled: true, RESTEnabled: true},
	}}
	api := New(zap.NewNop(), reg, br, checker, configs)
	return api, reg, checker
}

func TestRouter_GetServer_NotFound(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/servers/missing", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GetServer_Found(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	reg.Record(&healthtypes.DualHealthResult{ServerName: "svc", OverallStatus: healthtypes.StatusHealthy, Timestamp: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/servers/svc", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got healthtypes.DualHealthResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, healthtypes.StatusHealthy, got.OverallStatus)
}

func TestRouter_ListServers(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	reg.Record(&healthtypes.DualHealthResult{ServerName: "a", Timestamp: time.Now()})
	reg.Record(&healthtypes.DualHealthResult{ServerName: "b", Timestamp: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got []*healthtypes.DualHealthResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestRouter_GetCircuit(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/servers/svc/circuit", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got healthtypes.CircuitState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, healthtypes.OverallClosed, got.OverallState)
}

func TestRouter_TriggerCheck(t *testing.T) {
	api, reg, checker := newTestAPI(t)
	reg.Record(&healthtypes.DualHealthResult{ServerName: "svc", OverallStatus: healthtypes.StatusHealthy, Timestamp: time.Now()})

	req := httptest.NewRequest(http.MethodPost, "/servers/svc/check", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, checker.called)
	assert.Equal(t, "svc", checker.lastSvr)
}

func TestRouter_TriggerCheck_UnknownServer(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/servers/missing/check", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_TriggerCheck_Unavailable(t *testing.T) {
	reg := registry.New(10, time.Hour)
	br := breaker.New(5, 30*time.Second)
	api := New(zap.NewNop(), reg, br, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/servers/svc/check", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_GetSummary(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	reg.Record(&healthtypes.DualHealthResult{ServerName: "svc", OverallStatus: healthtypes.StatusHealthy, Timestamp: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got registry.SystemSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 1, got.ServersTotal)
	assert.Equal(t, 1, got.ServersHealthy)
}
