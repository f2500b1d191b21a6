// Package v0 provides the REST API handlers over the unified snapshot.
package v0

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-registry-aggregator/internal/api/common"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/versions"
)

// Routes defines the routes for the snapshot API with dependency injection
type Routes struct {
	service service.RegistryService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.RegistryService) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates a new router for the snapshot API
func Router(svc service.RegistryService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()
	r.Get("/info", routes.getInfo)
	r.Get("/servers", routes.listServers)
	r.Get("/servers/{id}", routes.getServer)
	r.Get("/sources", routes.listSources)
	return r
}

// getInfo handles GET /v0/info
func (rr *Routes) getInfo(w http.ResponseWriter, r *http.Request) {
	info, err := rr.service.GetInfo(r.Context())
	if errors.Is(err, service.ErrNotReady) {
		common.WriteErrorResponse(w, "No snapshot available yet", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to get snapshot info", "error", err)
		common.WriteErrorResponse(w, "Failed to get snapshot information", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, info, http.StatusOK)
}

// listServers handles GET /v0/servers
//
// Query parameters: cursor, limit, search, source, has_tools=true
func (rr *Routes) listServers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var opts []service.Option
	if cursor := query.Get("cursor"); cursor != "" {
		opts = append(opts, service.WithCursor(cursor))
	}
	if search := query.Get("search"); search != "" {
		opts = append(opts, service.WithSearch(search))
	}
	if source := query.Get("source"); source != "" {
		opts = append(opts, service.WithSource(source))
	}
	if query.Get("has_tools") == "true" {
		opts = append(opts, service.WithToolsOnly())
	}
	limit, ok, err := common.GetQueryInt(r, "limit")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ok {
		opts = append(opts, service.WithLimit(limit))
	}

	page, err := rr.service.ListServers(r.Context(), opts...)
	if err != nil {
		// option and cursor failures are the caller's
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	common.WriteJSONResponse(w, page, http.StatusOK)
}

// getServer handles GET /v0/servers/{id}
func (rr *Routes) getServer(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := rr.service.GetServer(r.Context(), id)
	if errors.Is(err, service.ErrServerNotFound) {
		common.WriteErrorResponse(w, "Server not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to get server", "id", id, "error", err)
		common.WriteErrorResponse(w, "Failed to get server", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, rec, http.StatusOK)
}

// listSources handles GET /v0/sources
func (rr *Routes) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := rr.service.ListSources(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list sources", "error", err)
		common.WriteErrorResponse(w, "Failed to list sources", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, map[string]any{"sources": sources}, http.StatusOK)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(svc service.RegistryService) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(svc))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once a snapshot is loaded
func readinessHandler(svc service.RegistryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CheckReadiness(r.Context()); err != nil {
			common.WriteErrorResponse(w, "RegistryService not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
