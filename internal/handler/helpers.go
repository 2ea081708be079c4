package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/spigotdb/spigot/internal/auth"
	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/server/middleware"
)

// writeJSON serializes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v, closing the body.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter with a default.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// clampInt bounds n to [min, max].
func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// requirePermission checks the request's authorization context for a grant
// on the concrete table, writing the error response itself on failure.
// Admin sessions pass every check.
func requirePermission(w http.ResponseWriter, r *http.Request, resource, action, tableName string) bool {
	actx := middleware.GetAuthContext(r.Context())
	if actx == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if actx.Admin {
		return true
	}
	if !auth.HasPermission(actx, resource, action, tableName) {
		writeError(w, http.StatusForbidden, "permission denied: "+action+" on "+resource,
			map[string]interface{}{"resource": resource, "action": action, "table": tableName})
		return false
	}
	return true
}

// writeEngineError maps engine failures onto HTTP statuses: a missing table
// is 404, a write against a read-only service is 403, everything else 500
// with the driver message attached.
func writeEngineError(w http.ResponseWriter, err error, fallbackMsg string) {
	if errors.Is(err, engine.ErrTableNotFound) {
		writeError(w, http.StatusNotFound, "table not found")
		return
	}
	if errors.Is(err, engine.ErrReadOnlyService) {
		writeError(w, http.StatusForbidden, "service is read-only")
		return
	}
	writeError(w, http.StatusInternalServerError, fallbackMsg+": "+err.Error())
}
