package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spigotdb/spigot/internal/job"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/storage"
)

// MediaHandler serves object uploads and downloads, with optional async
// processing of uploaded objects.
type MediaHandler struct {
	store       storage.Store
	scheduler   *job.Scheduler
	maxBodySize int64
}

// NewMediaHandler creates a MediaHandler over the object store.
func NewMediaHandler(store storage.Store, scheduler *job.Scheduler, maxBodySize int64) *MediaHandler {
	if maxBodySize <= 0 {
		maxBodySize = 10 << 20
	}
	return &MediaHandler{store: store, scheduler: scheduler, maxBodySize: maxBodySize}
}

// Upload stores the request body as a media object. The object key is
// derived from the filename query parameter plus a UUID to avoid
// collisions. With process=true, a media_processing job is submitted and
// returned alongside the object info.
// POST /api/v1/media?filename=&process=
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceMedia, model.ActionWrite, "") {
		return
	}

	filename := queryString(r, "filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "filename query parameter is required")
		return
	}
	key := fmt.Sprintf("media/%s-%s", uuid.NewString()[:8], path.Base(filename))

	body := http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer body.Close()

	info, err := h.store.Put(r.Context(), key, r.Header.Get("Content-Type"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusInternalServerError, "store object: "+err.Error())
		return
	}

	resp := map[string]interface{}{"object": info}
	if queryString(r, "process") == "true" {
		submitted, err := h.scheduler.Submit(model.JobRequest{
			Type:       model.JobMediaProcessing,
			Parameters: map[string]interface{}{"key": key},
		})
		if err != nil {
			// The upload itself succeeded; report the job failure inline.
			resp["processing_error"] = err.Error()
		} else {
			resp["job"] = submitted
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// List returns stored objects, optionally under a key prefix.
// GET /api/v1/media?prefix=
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceMedia, model.ActionRead, "") {
		return
	}

	objs, err := h.store.List(r.Context(), queryString(r, "prefix"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list objects: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"objects": objs, "count": len(objs)})
}

// Download streams an object back to the client.
// GET /api/v1/media/{key...}
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceMedia, model.ActionRead, "") {
		return
	}

	key := chi.URLParam(r, "*")
	rc, info, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get object: "+err.Error())
		return
	}
	defer rc.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	}
	io.Copy(w, rc)
}

// Delete removes an object.
// DELETE /api/v1/media/{key...}
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceMedia, model.ActionDelete, "") {
		return
	}

	key := chi.URLParam(r, "*")
	if err := h.store.Delete(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete object: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": key})
}
