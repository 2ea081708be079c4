package handler

import (
	"fmt"
	"net/http"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/openapi"
)

// OpenAPIHandler serves the generated OpenAPI document. Table paths are
// introspected from the engine on every request so the document tracks
// schema changes without a restart.
type OpenAPIHandler struct {
	engines *engine.Registry
	service string
}

// NewOpenAPIHandler creates an OpenAPIHandler bound to the default service.
func NewOpenAPIHandler(engines *engine.Registry, service string) *OpenAPIHandler {
	if service == "" {
		service = "default"
	}
	return &OpenAPIHandler{engines: engines, service: service}
}

// ServeSpec returns the OpenAPI 3.1 document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	var tables []string
	if eng, err := h.engines.Get(h.service); err == nil {
		// Introspection failure degrades to the fixed surface only.
		tables, _ = eng.ListTables(r.Context())
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	writeJSON(w, http.StatusOK, openapi.Generate(baseURL, tables))
}
