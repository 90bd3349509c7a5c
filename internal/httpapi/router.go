// Package httpapi exposes the health registry's read contract (C5's
// external interface, spec.md §6) over HTTP, plus the supplemented manual
// probe trigger and per-server history endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nestymook/healthcoord/internal/breaker"
	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/registry"
)

// Checker is the subset of the orchestrator the manual-trigger endpoint
// needs. internal/orchestrator.Orchestrator satisfies this.
type Checker interface {
	CheckOne(ctx context.Context, server *config.ServerConfig)
}

// ConfigSource resolves a server name to its current ServerConfig, so the
// manual-trigger endpoint always probes the live configuration rather than
// a snapshot taken at router construction time.
type ConfigSource interface {
	ServerByName(name string) (*config.ServerConfig, bool)
}

// API wires the health registry, circuit breaker, and orchestrator onto a
// chi.Router.
//
// Grounded on the teacher's internal/server/server.go + internal/httpapi
// routing conventions (chi.NewRouter, middleware stack, JSON response
// helper); the route table itself is new, since the teacher's httpapi
// served tool/upstream management rather than a health read contract.
type API struct {
	log      *zap.Logger
	registry *registry.Registry
	breaker  *breaker.DualCircuitBreaker
	checker  Checker
	configs  ConfigSource
}

// New builds an API. checker and configs may be nil, in which case the
// manual-trigger endpoint responds 503.
func New(log *zap.Logger, reg *registry.Registry, br *breaker.DualCircuitBreaker, checker Checker, configs ConfigSource) *API {
	return &API{log: log, registry: reg, breaker: br, checker: checker, configs: configs}
}

// Router builds the chi router for this API.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/servers", a.listServers)
	r.Get("/servers/{name}", a.getServer)
	r.Get("/servers/{name}/metrics", a.getMetrics)
	r.Get("/servers/{name}/circuit", a.getCircuit)
	r.Get("/servers/{name}/history", a.getHistory)
	r.Post("/servers/{name}/check", a.triggerCheck)
	r.Get("/summary", a.getSummary)

	return r
}

func (a *API) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.AllLatest())
}

func (a *API) getServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	result, ok := a.registry.LatestByServer(name)
	if !ok {
		writeError(w, http.StatusNotFound, "no results recorded for server "+name)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) getMetrics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	metrics, ok := a.registry.MetricsByServer(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown server "+name)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (a *API) getCircuit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, a.breaker.State(name))
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, a.registry.History(name, limit))
}

func (a *API) getSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.SystemSummary())
}

func (a *API) triggerCheck(w http.ResponseWriter, r *http.Request) {
	if a.checker == nil || a.configs == nil {
		writeError(w, http.StatusServiceUnavailable, "manual check not available")
		return
	}
	name := chi.URLParam(r, "name")
	server, ok := a.configs.ServerByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown server "+name)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	a.checker.CheckOne(ctx, server)

	result, _ := a.registry.LatestByServer(name)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
