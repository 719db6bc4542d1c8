package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/config"
	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/pkg/database"
	"github.com/cypherlabs/cipher-score-api/pkg/walletauth"
)

// SessionStore is the persistence surface of the login flow.
type SessionStore interface {
	UpsertUserNonce(ctx context.Context, id, walletAddress, nonce string, expiry time.Time) error
	UserAuthByWallet(ctx context.Context, walletAddress string) (*models.User, error)
	CreateSessionClearNonce(ctx context.Context, session *models.Session) error
	SessionWithUser(ctx context.Context, token string) (*models.Session, *models.User, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionService implements the challenge-response login flow and bearer
// session lifecycle.
type SessionService struct {
	store SessionStore
	cfg   *config.Config
}

func NewSessionService(store SessionStore, cfg *config.Config) *SessionService {
	return &SessionService{store: store, cfg: cfg}
}

// NonceChallenge is the response of a nonce request.
type NonceChallenge struct {
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestNonce issues a fresh nonce for an address, creating the user on
// first contact. Issuing a new nonce invalidates any previous one.
func (s *SessionService) RequestNonce(ctx context.Context, walletAddress string) (*NonceChallenge, error) {
	if !walletauth.IsValidAddress(walletAddress) {
		return nil, ErrInvalidAddress
	}

	now := time.Now()
	nonce := walletauth.GenerateNonce()
	expiry := now.Add(s.cfg.NonceTTL)

	if err := s.store.UpsertUserNonce(ctx, uuid.NewString(), walletAddress, nonce, expiry); err != nil {
		return nil, err
	}

	return &NonceChallenge{
		Message:   walletauth.BuildChallengeMessage(s.cfg.AppDomain, walletAddress, nonce, now),
		Nonce:     nonce,
		ExpiresAt: expiry,
	}, nil
}

// SessionGrant is the response of a successful signature verification.
type SessionGrant struct {
	SessionToken string             `json:"sessionToken"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	User         models.UserSummary `json:"user"`
}

// VerifyAndCreateSession checks the signed challenge and exchanges it for a
// bearer session. The nonce clear and session insert commit together, so a
// verified signature cannot be replayed even if the response is lost.
func (s *SessionService) VerifyAndCreateSession(ctx context.Context, walletAddress, signature, message, ipAddress, userAgent string) (*SessionGrant, error) {
	user, err := s.store.UserAuthByWallet(ctx, walletAddress)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoNonce
	}
	if err != nil {
		return nil, err
	}

	if user.Nonce == nil || user.NonceExpiry == nil {
		return nil, ErrNoNonce
	}
	if time.Now().After(*user.NonceExpiry) {
		return nil, ErrNonceExpired
	}

	// The signed message must embed the outstanding nonce; otherwise a
	// signature over unrelated text would pass.
	if !strings.Contains(message, "Nonce: "+*user.Nonce) {
		return nil, ErrInvalidSignature
	}
	if !walletauth.VerifySignature(message, signature, walletAddress) {
		return nil, ErrInvalidSignature
	}

	session := models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     walletauth.GenerateSessionToken(),
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
	if err := s.store.CreateSessionClearNonce(ctx, &session); err != nil {
		return nil, err
	}

	log.Info().Str("wallet", walletAddress).Msg("Session created")

	return &SessionGrant{
		SessionToken: session.Token,
		ExpiresAt:    session.ExpiresAt,
		User:         user.Summary(),
	}, nil
}

// Authenticate resolves a bearer token to its owning user. Expired sessions
// are deleted as a side effect, so a second attempt with the same token
// fails with ErrInvalidToken.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*models.User, string, error) {
	if token == "" {
		return nil, "", ErrMissingToken
	}

	session, user, err := s.store.SessionWithUser(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, "", ErrInvalidToken
	}
	if err != nil {
		return nil, "", err
	}

	if time.Now().After(session.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, session.ID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to delete expired session")
		}
		return nil, "", ErrSessionExpired
	}

	return user, session.ID, nil
}

// Revoke deletes a session; deleting an unknown id is a no-op.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}
