package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/job"
)

// SystemHandler serves health, readiness, and process status.
type SystemHandler struct {
	engines   *engine.Registry
	jobs      *job.Registry
	version   string
	startedAt time.Time
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(engines *engine.Registry, jobs *job.Registry, version string) *SystemHandler {
	return &SystemHandler{
		engines:   engines,
		jobs:      jobs,
		version:   version,
		startedAt: time.Now().UTC(),
	}
}

// Health is a liveness probe: the process is up.
// GET /healthz
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// Ready is a readiness probe: every connected engine answers a ping.
// GET /readyz
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{}
	ready := true
	for _, name := range h.engines.Services() {
		eng, err := h.engines.Get(name)
		if err != nil {
			services[name] = "gone"
			ready = false
			continue
		}
		if err := eng.Ping(ctx); err != nil {
			services[name] = "unreachable: " + err.Error()
			ready = false
			continue
		}
		services[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "services": services})
}

// Status reports process-level state for the CLI status command.
// GET /api/v1/status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, j := range h.jobs.List("", "", 0) {
		counts[string(j.Status)]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"services":       h.engines.Services(),
		"jobs":           counts,
	})
}
