package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/internal/services"
)

// scoreComputer is the slice of the score service the HTTP layer needs.
type scoreComputer interface {
	CalculateCreditScore(ctx context.Context, walletAddress string, metrics models.WalletMetrics) (*services.ScoreResult, error)
	FetchWalletMetrics(ctx context.Context, walletAddress string) (models.WalletMetrics, error)
	WalletStatus(ctx context.Context, walletAddress string) (*services.WalletStatus, error)
}

// usageRecorder moves the quota counter after a successful computation.
type usageRecorder interface {
	IncrementOnSuccess(ctx context.Context, userID string)
}

type ScoreHandler struct {
	scores scoreComputer
	usage  usageRecorder
}

func NewScoreHandler(scores scoreComputer, usage usageRecorder) *ScoreHandler {
	return &ScoreHandler{scores: scores, usage: usage}
}

// scoreInput is the request body of POST /calculate_credit_score. A present
// wallet_address selects wallet mode, where the observable metrics are read
// from the ledger. Without it the caller supplies all eight metric fields
// directly and the computation runs against the service wallet. Pointer
// fields distinguish an absent metric from an explicit zero.
type scoreInput struct {
	WalletAddress    string `json:"wallet_address"`
	WalletAgeDays    *int64 `json:"wallet_age_days"`
	TransactionCount *int64 `json:"transaction_count"`
	TotalVolumeUSD   *int64 `json:"total_volume_usd"`
	UniqueProtocols  *int64 `json:"unique_protocols"`
	DefiPositions    *int64 `json:"defi_positions"`
	NFTCount         *int64 `json:"nft_count"`
	FailedTxs        *int64 `json:"failed_txs"`
	Balance          *int64 `json:"sol_balance"`
}

// metricFields orders the manual-mode fields for validation.
func (in *scoreInput) metricFields() []struct {
	name  string
	value *int64
} {
	return []struct {
		name  string
		value *int64
	}{
		{"wallet_age_days", in.WalletAgeDays},
		{"transaction_count", in.TransactionCount},
		{"total_volume_usd", in.TotalVolumeUSD},
		{"unique_protocols", in.UniqueProtocols},
		{"defi_positions", in.DefiPositions},
		{"nft_count", in.NFTCount},
		{"failed_txs", in.FailedTxs},
		{"sol_balance", in.Balance},
	}
}

// CalculateCreditScore runs one confidential computation. The quota counter
// moves only when the computation returns a score.
func (h *ScoreHandler) CalculateCreditScore(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var input scoreInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	var metrics models.WalletMetrics
	if input.WalletAddress != "" {
		fetched, err := h.scores.FetchWalletMetrics(r.Context(), input.WalletAddress)
		if err != nil {
			if errors.Is(err, services.ErrInvalidAddress) {
				writeError(w, http.StatusBadRequest, "Invalid wallet address")
				return
			}
			log.Error().Err(err).Str("wallet", input.WalletAddress).Msg("Failed to fetch wallet metrics")
			writeError(w, http.StatusBadGateway, "Failed to fetch wallet metrics")
			return
		}
		metrics = fetched
	} else {
		for _, f := range input.metricFields() {
			if f.value == nil {
				writeError(w, http.StatusBadRequest, "Missing or invalid field: "+f.name)
				return
			}
		}
		metrics = models.WalletMetrics{
			WalletAgeDays:    *input.WalletAgeDays,
			TransactionCount: *input.TransactionCount,
			TotalVolumeUSD:   *input.TotalVolumeUSD,
			UniqueProtocols:  *input.UniqueProtocols,
			DefiPositions:    *input.DefiPositions,
			NFTCount:         *input.NFTCount,
			FailedTxs:        *input.FailedTxs,
			Balance:          *input.Balance,
		}
	}

	result, err := h.scores.CalculateCreditScore(r.Context(), input.WalletAddress, metrics)
	if err != nil {
		h.writeScoreError(w, err)
		return
	}

	h.usage.IncrementOnSuccess(r.Context(), user.ID)
	writeData(w, http.StatusOK, result)
}

func (h *ScoreHandler) writeScoreError(w http.ResponseWriter, err error) {
	var invalidField *models.InvalidFieldError
	var cooldown *services.CooldownError
	switch {
	case errors.Is(err, services.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "Invalid wallet address")
	case errors.As(err, &invalidField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "Computation service is not ready")
	case errors.Is(err, services.ErrComputationTimeout):
		writeError(w, http.StatusServiceUnavailable, "Computation did not complete in time")
	case errors.Is(err, services.ErrInsufficientFunds):
		writeError(w, http.StatusServiceUnavailable, "Service wallet has insufficient funds")
	case errors.Is(err, services.ErrAccountNotInitialized):
		writeError(w, http.StatusBadRequest, "Computation definition not initialized")
	case errors.As(err, &cooldown):
		writeJSON(w, http.StatusConflict, map[string]any{
			"success":               false,
			"error":                 cooldown.Error(),
			"error_code":            "UpdateTooSoon",
			"cooldown_period_hours": int(cooldown.Period.Hours()),
			"timestamp":             time.Now().UTC(),
		})
	default:
		log.Error().Err(err).Msg("Score computation failed")
		writeError(w, http.StatusInternalServerError, "Score computation failed")
	}
}

// GetWalletStatus reads the on-chain score record for a wallet.
// GET /wallet_status/{address}
func (h *ScoreHandler) GetWalletStatus(w http.ResponseWriter, r *http.Request) {
	h.writeWalletStatus(w, r, chi.URLParam(r, "address"))
}

// GetOwnWalletStatus reads the service wallet's record.
// GET /wallet_status
func (h *ScoreHandler) GetOwnWalletStatus(w http.ResponseWriter, r *http.Request) {
	h.writeWalletStatus(w, r, "")
}

func (h *ScoreHandler) writeWalletStatus(w http.ResponseWriter, r *http.Request, address string) {
	status, err := h.scores.WalletStatus(r.Context(), address)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, "Invalid wallet address")
			return
		}
		log.Error().Err(err).Str("wallet", address).Msg("Failed to read wallet status")
		writeError(w, http.StatusBadGateway, "Failed to read wallet status")
		return
	}
	writeData(w, http.StatusOK, status)
}
