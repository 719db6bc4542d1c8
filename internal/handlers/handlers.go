package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cypherlabs/cipher-score-api/internal/models"
)

type contextKey string

const (
	UserContextKey    contextKey = "user"
	SessionContextKey contextKey = "session_id"
	APIKeyContextKey  contextKey = "api_key_id"
)

// GetUserFromContext retrieves the authenticated user set by the auth
// middleware.
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// GetSessionIDFromContext retrieves the session id of a session-authenticated
// request.
func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(SessionContextKey).(string)
	return id, ok
}

// GetAPIKeyIDFromContext retrieves the key id of a key-authenticated request.
func GetAPIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(APIKeyContextKey).(string)
	return id, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeData wraps a scoring response in the success envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{
		"success":   true,
		"data":      v,
		"timestamp": time.Now().UTC(),
	})
}
