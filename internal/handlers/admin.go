package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/internal/services"
)

type AdminHandler struct {
	runtime *services.Runtime
}

func NewAdminHandler(runtime *services.Runtime) *AdminHandler {
	return &AdminHandler{runtime: runtime}
}

// InitCompDef submits the computation definition initialization transaction.
// Needed once per program deployment; calling it again is harmless.
func (h *AdminHandler) InitCompDef(w http.ResponseWriter, r *http.Request) {
	if h.runtime.CompDefInitialized() {
		writeJSON(w, http.StatusOK, map[string]any{
			"initialized": true,
			"message":     "Computation definition already initialized",
		})
		return
	}

	signature, err := h.runtime.InitCompDef(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize computation definition")
		writeError(w, http.StatusBadGateway, "Failed to initialize computation definition")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"initialized": true,
		"signature":   signature,
	})
}

// GetWallet reports the service payer wallet and program state.
func (h *AdminHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	info, err := h.runtime.WalletInfo(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read wallet info")
		writeError(w, http.StatusBadGateway, "Failed to read wallet info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// sampleWallets are canned metric profiles for exercising the scoring
// pipeline without deriving real wallet history.
var sampleWallets = []struct {
	Label   string               `json:"label"`
	Metrics models.WalletMetrics `json:"metrics"`
}{
	{
		Label: "high quality",
		Metrics: models.WalletMetrics{
			WalletAgeDays: 1095, TransactionCount: 4800, TotalVolumeUSD: 250_000_000,
			UniqueProtocols: 18, DefiPositions: 7, NFTCount: 25, FailedTxs: 12,
			Balance: 50_000_000_000,
		},
	},
	{
		Label: "medium quality",
		Metrics: models.WalletMetrics{
			WalletAgeDays: 240, TransactionCount: 350, TotalVolumeUSD: 8_000_000,
			UniqueProtocols: 5, DefiPositions: 2, NFTCount: 3, FailedTxs: 20,
			Balance: 2_000_000_000,
		},
	},
	{
		Label: "low quality",
		Metrics: models.WalletMetrics{
			WalletAgeDays: 14, TransactionCount: 25, TotalVolumeUSD: 50_000,
			UniqueProtocols: 1, FailedTxs: 9, Balance: 100_000_000,
		},
	},
}

// GetSampleWallets lists example metric profiles for integration testing.
func (h *AdminHandler) GetSampleWallets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"wallets": sampleWallets})
}
