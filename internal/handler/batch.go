package handler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/job"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/webhook"
)

// BatchHandler serves synchronous batch operations, async jobs, and webhook
// registrations.
type BatchHandler struct {
	engines      *engine.Registry
	service      string
	maxBatchSize int

	jobs      *job.Registry
	scheduler *job.Scheduler
	webhooks  *webhook.Registry
}

// NewBatchHandler wires the batch surface over its collaborators.
func NewBatchHandler(engines *engine.Registry, service string, maxBatchSize int,
	jobs *job.Registry, scheduler *job.Scheduler, webhooks *webhook.Registry) *BatchHandler {
	if service == "" {
		service = "default"
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	return &BatchHandler{
		engines:      engines,
		service:      service,
		maxBatchSize: maxBatchSize,
		jobs:         jobs,
		scheduler:    scheduler,
		webhooks:     webhooks,
	}
}

// ExecuteBatch runs a batch of operations synchronously.
// POST /api/v1/batch/operations
func (h *BatchHandler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "operations is required")
		return
	}
	if len(req.Operations) > h.maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch exceeds maximum size",
			map[string]interface{}{"max_batch_size": h.maxBatchSize})
		return
	}

	// Each operation is authorized against its own table before anything
	// executes: a batch must not leak partial writes past a 403.
	for _, op := range req.Operations {
		action := model.ActionWrite
		if op.Operation == model.BatchDelete {
			action = model.ActionDelete
		}
		if !requirePermission(w, r, model.ResourceData, action, op.Table) {
			return
		}
	}

	eng, err := h.engines.Get(h.service)
	if err != nil {
		writeError(w, http.StatusNotFound, "service not found: "+h.service)
		return
	}

	result := engine.ApplyBatch(r.Context(), eng, req)
	status := http.StatusOK
	if result.Failed > 0 && result.Successful == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

// StreamRows exports a table's rows as a chunked response, flushing after
// every chunk so large exports start arriving immediately.
// POST /api/v1/batch/stream/{table}
func (h *BatchHandler) StreamRows(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !requirePermission(w, r, model.ResourceData, model.ActionRead, table) {
		return
	}

	var req model.StreamRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = 1000
	}
	req.ChunkSize = clampInt(req.ChunkSize, 1, 10000)
	if req.Format == "" {
		req.Format = model.StreamJSONL
	}
	switch req.Format {
	case model.StreamJSONL, model.StreamJSON, model.StreamCSV:
	default:
		writeError(w, http.StatusBadRequest, "unknown stream format: "+req.Format)
		return
	}

	eng, err := h.engines.Get(h.service)
	if err != nil {
		writeError(w, http.StatusNotFound, "service not found: "+h.service)
		return
	}

	rows, err := eng.SelectRows(r.Context(), table, engine.Predicate(req.Where), req.Limit)
	if err != nil {
		writeEngineError(w, err, "stream rows")
		return
	}

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if rows == nil {
		rows = []map[string]interface{}{}
	}

	switch req.Format {
	case model.StreamJSON:
		writeJSON(w, http.StatusOK, rows)

	case model.StreamCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		streamCSV(w, rows, req.ChunkSize, flush)

	default:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		for i, row := range rows {
			if enc.Encode(row) != nil {
				return // client went away
			}
			if (i+1)%req.ChunkSize == 0 {
				flush()
			}
		}
		flush()
	}
}

// streamCSV writes rows as CSV with a header taken from the first row's
// sorted column names, flushing every chunkSize records.
func streamCSV(w io.Writer, rows []map[string]interface{}, chunkSize int, flush func()) {
	if len(rows) == 0 {
		return
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	cw := csv.NewWriter(w)
	if cw.Write(cols) != nil {
		return
	}
	record := make([]string, len(cols))
	for i, row := range rows {
		for j, c := range cols {
			if v, ok := row[c]; ok && v != nil {
				record[j] = fmt.Sprint(v)
			} else {
				record[j] = ""
			}
		}
		if cw.Write(record) != nil {
			return
		}
		if (i+1)%chunkSize == 0 {
			cw.Flush()
			flush()
		}
	}
	cw.Flush()
	flush()
}

// SubmitJob enqueues an async job.
// POST /api/v1/batch/jobs
func (h *BatchHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceData, model.ActionWrite, "") {
		return
	}

	var req model.JobRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !model.ValidJobType(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown job type: "+string(req.Type))
		return
	}
	for _, ev := range req.WebhookEvents {
		if !model.ValidWebhookEvent(ev) {
			writeError(w, http.StatusBadRequest, "unknown webhook event: "+string(ev))
			return
		}
	}

	submitted, err := h.scheduler.Submit(req)
	if err != nil {
		if errors.Is(err, job.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

// ListJobs returns job snapshots, optionally filtered by status and type.
// GET /api/v1/batch/jobs?status=&type=&limit=
func (h *BatchHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceData, model.ActionRead, "") {
		return
	}

	status := model.JobStatus(queryString(r, "status"))
	jobType := model.JobType(queryString(r, "type"))
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)

	jobs := h.jobs.List(status, jobType, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// GetJob returns one job snapshot.
// GET /api/v1/batch/jobs/{id}
func (h *BatchHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceData, model.ActionRead, "") {
		return
	}

	j, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// CancelJob requests cancellation of a pending or running job.
// DELETE /api/v1/batch/jobs/{id}
func (h *BatchHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceData, model.ActionDelete, "") {
		return
	}

	id := chi.URLParam(r, "id")
	err := h.jobs.Cancel(id)
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, job.ErrInvalidState):
		writeError(w, http.StatusConflict, "job is already in a terminal state")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "cancel job: "+err.Error())
	default:
		j, _ := h.jobs.Get(id)
		writeJSON(w, http.StatusOK, j)
	}
}

// RegisterWebhook registers an outbound notification target.
// POST /api/v1/batch/webhooks
func (h *BatchHandler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionCreate, "") {
		return
	}

	var cfg model.WebhookConfig
	if err := readJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	hook, err := h.webhooks.Register(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

// ListWebhooks returns all registered webhooks.
// GET /api/v1/batch/webhooks
func (h *BatchHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionRead, "") {
		return
	}
	hooks := h.webhooks.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks, "count": len(hooks)})
}

// UnregisterWebhook removes a webhook registration.
// DELETE /api/v1/batch/webhooks/{id}
func (h *BatchHandler) UnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionDelete, "") {
		return
	}

	if err := h.webhooks.Unregister(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unregistered": true})
}
