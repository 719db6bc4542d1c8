package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/pkg/database"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type ProfileHandler struct {
	db *database.DB
}

func NewProfileHandler(db *database.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

// GetProfile returns the authenticated user's profile.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile changes name and/or email. Only fields present in the body
// are touched.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var input struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if input.Name == nil && input.Email == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		if _, err := h.db.Pool.Exec(r.Context(), `
			UPDATE users SET name = $1 WHERE id = $2
		`, trimmed, user.ID); err != nil {
			log.Error().Err(err).Msg("Failed to update name")
			writeError(w, http.StatusInternalServerError, "Failed to update profile")
			return
		}
		user.Name = &trimmed
	}

	if input.Email != nil {
		trimmed := strings.ToLower(strings.TrimSpace(*input.Email))
		if !emailPattern.MatchString(trimmed) {
			writeError(w, http.StatusBadRequest, "Invalid email address")
			return
		}
		if _, err := h.db.Pool.Exec(r.Context(), `
			UPDATE users SET email = $1 WHERE id = $2
		`, trimmed, user.ID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				writeError(w, http.StatusConflict, "Email already in use")
				return
			}
			log.Error().Err(err).Msg("Failed to update email")
			writeError(w, http.StatusInternalServerError, "Failed to update profile")
			return
		}
		user.Email = &trimmed
	}

	writeJSON(w, http.StatusOK, user)
}
