package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/model"
)

// reserved query parameters on the rows endpoints; everything else is
// treated as an equality predicate on a column.
var reservedRowParams = map[string]bool{
	"limit":  true,
	"offset": true,
}

// TableHandler handles table metadata and row CRUD against the engine
// registry.
type TableHandler struct {
	engines *engine.Registry
	service string
}

// NewTableHandler creates a TableHandler bound to the named default service.
func NewTableHandler(engines *engine.Registry, service string) *TableHandler {
	if service == "" {
		service = "default"
	}
	return &TableHandler{engines: engines, service: service}
}

func (h *TableHandler) engine(w http.ResponseWriter, r *http.Request) (*engine.SQLEngine, bool) {
	service := queryString(r, "service")
	if service == "" {
		service = h.service
	}
	eng, err := h.engines.Get(service)
	if err != nil {
		writeError(w, http.StatusNotFound, "service not found: "+service)
		return nil, false
	}
	return eng, true
}

// ListTables returns the names of all tables.
// GET /api/v1/tables
func (h *TableHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceTables, model.ActionRead, "") {
		return
	}
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	names, err := eng.ListTables(r.Context())
	if err != nil {
		writeEngineError(w, err, "list tables")
		return
	}

	resource := make([]map[string]interface{}, len(names))
	for i, n := range names {
		resource[i] = map[string]interface{}{"name": n}
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: resource})
}

// CreateTable creates a new table from a column definition.
// POST /api/v1/tables
func (h *TableHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var def engine.Table
	if err := readJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !requirePermission(w, r, model.ResourceTables, model.ActionCreate, def.Name) {
		return
	}
	if def.Name == "" || len(def.Columns) == 0 {
		writeError(w, http.StatusBadRequest, "table name and columns are required")
		return
	}

	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := eng.CreateTable(r.Context(), def); err != nil {
		writeEngineError(w, err, "create table")
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// GetTable returns the schema of one table.
// GET /api/v1/tables/{name}
func (h *TableHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !requirePermission(w, r, model.ResourceTables, model.ActionRead, name) {
		return
	}
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	tbl, err := eng.LookupTable(r.Context(), name)
	if err != nil {
		writeEngineError(w, err, "describe table")
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

// DropTable removes a table.
// DELETE /api/v1/tables/{name}
func (h *TableHandler) DropTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !requirePermission(w, r, model.ResourceTables, model.ActionDelete, name) {
		return
	}
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	if err := eng.DropTable(r.Context(), name); err != nil {
		writeEngineError(w, err, "drop table")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dropped": name})
}

// QueryRows returns rows matching the query parameters. Any non-reserved
// query parameter is an equality predicate on that column.
// GET /api/v1/tables/{name}/rows
func (h *TableHandler) QueryRows(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "name")
	if !requirePermission(w, r, model.ResourceData, model.ActionRead, name) {
		return
	}
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	limit := clampInt(queryInt(r, "limit", 25), 1, 1000)
	where := make(engine.Predicate)
	for key, vals := range r.URL.Query() {
		if reservedRowParams[key] || key == "service" || len(vals) == 0 {
			continue
		}
		where[key] = vals[0]
	}

	rows, err := eng.SelectRows(r.Context(), name, where, limit)
	if err != nil {
		writeEngineError(w, err, "query rows")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: rows,
		Meta: &model.ResponseMeta{
			Count:  len(rows),
			Limit:  limit,
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

// insertRowsRequest is the payload for inserting rows.
type insertRowsRequest struct {
	Rows []map[string]interface{} `json:"rows"`
}

// InsertRows appends rows to a table.
// POST /api/v1/tables/{name}/rows
func (h *TableHandler) InsertRows(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !requirePermission(w, r, model.ResourceData, model.ActionWrite, name) {
		return
	}

	var req insertRowsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows is required")
		return
	}

	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	n, err := eng.InsertRows(r.Context(), name, req.Rows)
	if err != nil {
		writeEngineError(w, err, "insert rows")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"inserted": n})
}

// updateRowsRequest is the payload for updating rows.
type updateRowsRequest struct {
	Set   map[string]interface{} `json:"set"`
	Where map[string]interface{} `json:"where"`
}

// UpdateRows sets columns on rows matching the predicate.
// PATCH /api/v1/tables/{name}/rows
func (h *TableHandler) UpdateRows(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !requirePermission(w, r, model.ResourceData, model.ActionWrite, name) {
		return
	}

	var req updateRowsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Set) == 0 {
		writeError(w, http.StatusBadRequest, "set is required")
		return
	}
	if len(req.Where) == 0 {
		writeError(w, http.StatusBadRequest, "where is required; unfiltered updates are not allowed")
		return
	}

	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	n, err := eng.UpdateRows(r.Context(), name, req.Set, engine.Predicate(req.Where))
	if err != nil {
		writeEngineError(w, err, "update rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": n})
}

// deleteRowsRequest is the payload for deleting rows.
type deleteRowsRequest struct {
	Where map[string]interface{} `json:"where"`
}

// DeleteRows removes rows matching the predicate. An empty predicate is
// rejected; clearing a table goes through DropTable and recreation.
// DELETE /api/v1/tables/{name}/rows
func (h *TableHandler) DeleteRows(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !requirePermission(w, r, model.ResourceData, model.ActionDelete, name) {
		return
	}

	var req deleteRowsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Where) == 0 {
		writeError(w, http.StatusBadRequest, "where is required; unfiltered deletes are not allowed")
		return
	}

	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	n, err := eng.DeleteRows(r.Context(), name, engine.Predicate(req.Where))
	if err != nil {
		writeEngineError(w, err, "delete rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}
