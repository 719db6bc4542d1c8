package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cypherlabs/cipher-score-api/internal/models"
)

// Auth failures. Surfaced as 400/401 and never retried automatically.
var (
	ErrInvalidAddress   = errors.New("valid wallet address required")
	ErrNoNonce          = errors.New("no valid nonce found, request a new nonce")
	ErrNonceExpired     = errors.New("nonce expired, request a new nonce")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingToken     = errors.New("session token required")
	ErrInvalidToken     = errors.New("invalid session token")
	ErrSessionExpired   = errors.New("session expired")
)

// Key management failures.
var (
	ErrTooManyKeys = errors.New("maximum 5 active API keys allowed per user")
	ErrKeyNotFound = errors.New("API key not found")
)

// Service lifecycle.
var ErrNotInitialized = errors.New("ledger connection not initialized")

// Computation failures.
var (
	// ErrComputationTimeout is recoverable: the computation may still finish
	// out-of-band, callers should poll wallet status later.
	ErrComputationTimeout    = errors.New("score calculation event timeout, the computation may still be processing on-chain")
	ErrInsufficientFunds     = errors.New("insufficient funds on payer wallet")
	ErrAccountNotInitialized = errors.New("required accounts not initialized, call POST /admin/init_comp_def first")
)

// QuotaExceededError carries the reset metadata a 429 response needs.
type QuotaExceededError struct {
	Tier      models.Tier
	Usage     int
	Limit     int
	ResetDate time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly limit of %d calculations exceeded for %s tier", e.Limit, e.Tier)
}

// CooldownError reports the program-enforced minimum interval between score
// updates for the same wallet.
type CooldownError struct {
	Period time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, must wait %s between score updates for the same wallet", e.Period)
}

// classifySubmissionError maps raw ledger errors onto the computation error
// taxonomy. Unrecognized errors pass through with their message preserved.
func classifySubmissionError(err error, cooldown time.Duration) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "0x1"):
		return ErrInsufficientFunds
	case strings.Contains(msg, "AccountNotInitialized"):
		return ErrAccountNotInitialized
	case strings.Contains(msg, "UpdateTooSoon"), strings.Contains(msg, "Must wait 24 hours"):
		return &CooldownError{Period: cooldown}
	default:
		return fmt.Errorf("submission failed: %w", err)
	}
}
