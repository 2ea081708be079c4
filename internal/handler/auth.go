package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spigotdb/spigot/internal/auth"
	"github.com/spigotdb/spigot/internal/model"
)

// AuthHandler manages API keys over HTTP. All routes require an admin
// session or a key holding admin grants; the router wires that gate.
type AuthHandler struct {
	store *auth.Store
}

// NewAuthHandler creates an AuthHandler over the credential store.
func NewAuthHandler(store *auth.Store) *AuthHandler {
	return &AuthHandler{store: store}
}

// createKeyRequest is the payload for issuing a new API key.
type createKeyRequest struct {
	Name        string                 `json:"name"`
	Permissions []model.Permission     `json:"permissions"`
	RateLimit   *model.RateLimitPolicy `json:"rate_limit,omitempty"`
	ExpiresIn   string                 `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
}

// createKeyResponse carries the plaintext key exactly once.
type createKeyResponse struct {
	Key    string        `json:"key"`
	APIKey *model.APIKey `json:"api_key"`
}

// CreateKey issues a new API key.
// POST /api/v1/auth/api-keys
func (h *AuthHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionCreate, "") {
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	for _, p := range req.Permissions {
		if err := validatePermission(p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	rawKey, key, err := h.store.Issue(req.Name, req.Permissions, expiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issue key: "+err.Error())
		return
	}
	if req.RateLimit != nil {
		h.store.SetPolicy(key.ID, req.RateLimit)
		key.RateLimit = req.RateLimit
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{Key: rawKey, APIKey: key})
}

// ListKeys returns all key records, newest first. Hashes are never included.
// GET /api/v1/auth/api-keys
func (h *AuthHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionRead, "") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"api_keys": h.store.List()})
}

// GetKey returns a single key record by id or display prefix.
// GET /api/v1/auth/api-keys/{id}
func (h *AuthHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionRead, "") {
		return
	}
	key, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// RevokeKey deactivates a key. Revocation is terminal and idempotent.
// DELETE /api/v1/auth/api-keys/{id}
func (h *AuthHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionDelete, "") {
		return
	}
	if err := h.store.Revoke(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "revoke key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true})
}

// RotateKey revokes a key and issues a replacement with identical grants.
// POST /api/v1/auth/api-keys/{id}/rotate
func (h *AuthHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionCreate, "") {
		return
	}
	rawKey, key, err := h.store.Rotate(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "rotate key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: rawKey, APIKey: key})
}

// KeyUsage returns the in-memory request counters for a key.
// GET /api/v1/auth/api-keys/{id}/usage
func (h *AuthHandler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	if !requirePermission(w, r, model.ResourceAdmin, model.ActionRead, "") {
		return
	}
	usage, err := h.store.Usage(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func validatePermission(p model.Permission) error {
	switch p.Resource {
	case model.ResourceTables, model.ResourceData, model.ResourceMedia, model.ResourceAdmin:
	default:
		return errors.New("unknown resource " + p.Resource)
	}
	if len(p.Actions) == 0 {
		return errors.New("permission requires at least one action")
	}
	for _, a := range p.Actions {
		switch a {
		case model.ActionRead, model.ActionWrite, model.ActionDelete, model.ActionCreate:
		default:
			return errors.New("unknown action " + a)
		}
	}
	return nil
}
