package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/udf"
)

// UDFHandler serves the user-defined function catalog.
type UDFHandler struct {
	udfs *udf.Registry
}

// NewUDFHandler wires the UDF surface over the catalog.
func NewUDFHandler(udfs *udf.Registry) *UDFHandler {
	return &UDFHandler{udfs: udfs}
}

// RegisterUDF stores a new function definition.
// POST /api/v1/udfs
func (h *UDFHandler) RegisterUDF(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceTables, model.ActionCreate, "") {
		return
	}

	var def model.UDFDefinition
	if err := readJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	fn, err := h.udfs.Register(def)
	if err != nil {
		if errors.Is(err, udf.ErrExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, fn)
}

// ListUDFs returns all registered functions.
// GET /api/v1/udfs
func (h *UDFHandler) ListUDFs(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceTables, model.ActionRead, "") {
		return
	}
	fns := h.udfs.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"udfs": fns, "count": len(fns)})
}

// GetUDF returns one function by name.
// GET /api/v1/udfs/{name}
func (h *UDFHandler) GetUDF(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceTables, model.ActionRead, "") {
		return
	}

	fn, err := h.udfs.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "udf not found")
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// UnregisterUDF removes a function from the catalog.
// DELETE /api/v1/udfs/{name}
func (h *UDFHandler) UnregisterUDF(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceTables, model.ActionDelete, "") {
		return
	}

	if err := h.udfs.Unregister(chi.URLParam(r, "name")); err != nil {
		writeError(w, http.StatusNotFound, "udf not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unregistered": true})
}

// ExecuteUDF runs a signature-checked invocation of a function.
// POST /api/v1/udfs/{name}/execute
func (h *UDFHandler) ExecuteUDF(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceTables, model.ActionWrite, "") {
		return
	}

	var params map[string]interface{}
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	exec, err := h.udfs.Execute(chi.URLParam(r, "name"), params)
	switch {
	case errors.Is(err, udf.ErrNotFound):
		writeError(w, http.StatusNotFound, "udf not found")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, exec)
	}
}
