package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/services"
)

type KeyHandler struct {
	keys *services.ApiKeyService
}

func NewKeyHandler(keys *services.ApiKeyService) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// CreateKey mints a new API key. The response carries the only plaintext
// copy the caller will ever see.
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := h.keys.Create(r.Context(), user.ID, input.Name)
	if err != nil {
		if errors.Is(err, services.ErrTooManyKeys) {
			writeError(w, http.StatusConflict, "Maximum of 5 active API keys reached")
			return
		}
		log.Error().Err(err).Msg("Failed to create API key")
		writeError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// ListKeys returns the user's keys with masked previews.
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	keys, err := h.keys.List(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list API keys")
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// GetKey returns one key with its recent usage.
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	detail, err := h.keys.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, services.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get API key")
		writeError(w, http.StatusInternalServerError, "Failed to get API key")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// RenameKey updates a key's display name.
func (h *KeyHandler) RenameKey(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	err := h.keys.Rename(r.Context(), user.ID, chi.URLParam(r, "id"), input.Name)
	if err != nil {
		if errors.Is(err, services.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		log.Error().Err(err).Msg("Failed to rename API key")
		writeError(w, http.StatusInternalServerError, "Failed to rename API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DeactivateKey soft-deletes a key; its usage history stays.
func (h *KeyHandler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	err := h.keys.Deactivate(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, services.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		log.Error().Err(err).Msg("Failed to deactivate API key")
		writeError(w, http.StatusInternalServerError, "Failed to deactivate API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetStats aggregates quota and traffic for the dashboard.
func (h *KeyHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	stats, err := h.keys.Stats(r.Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load usage stats")
		writeError(w, http.StatusInternalServerError, "Failed to load usage stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
