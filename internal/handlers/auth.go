package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/services"
)

type AuthHandler struct {
	sessions *services.SessionService
}

func NewAuthHandler(sessions *services.SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// RequestNonce issues a challenge to sign. POST /wallet-auth/request-nonce
func (h *AuthHandler) RequestNonce(w http.ResponseWriter, r *http.Request) {
	var input struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if input.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	challenge, err := h.sessions.RequestNonce(r.Context(), input.WalletAddress)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}
		log.Error().Err(err).Msg("Failed to issue nonce")
		writeError(w, http.StatusInternalServerError, "Failed to issue nonce")
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

// VerifySignature exchanges a signed challenge for a session.
// POST /wallet-auth/verify-signature
func (h *AuthHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var input struct {
		WalletAddress string `json:"walletAddress"`
		Signature     string `json:"signature"`
		Message       string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if input.WalletAddress == "" || input.Signature == "" || input.Message == "" {
		writeError(w, http.StatusBadRequest, "walletAddress, signature and message are required")
		return
	}

	grant, err := h.sessions.VerifyAndCreateSession(r.Context(),
		input.WalletAddress, input.Signature, input.Message,
		clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoNonce):
			writeError(w, http.StatusBadRequest, "No nonce requested for this wallet")
		case errors.Is(err, services.ErrNonceExpired):
			writeError(w, http.StatusBadRequest, "Nonce expired, request a new one")
		case errors.Is(err, services.ErrInvalidSignature):
			writeError(w, http.StatusUnauthorized, "Signature verification failed")
		default:
			log.Error().Err(err).Msg("Failed to verify signature")
			writeError(w, http.StatusInternalServerError, "Verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// GetSession returns the authenticated user. GET /wallet-auth/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Summary()})
}

// Logout revokes the current session. POST /wallet-auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := GetSessionIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err := h.sessions.Revoke(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to revoke session")
		writeError(w, http.StatusInternalServerError, "Logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
