package models

import "fmt"

// WalletMetrics is the fixed 8-field input vector of a score computation.
// Field order matters: it matches the encrypted vector layout the
// computation circuit expects.
type WalletMetrics struct {
	WalletAgeDays    int64 `json:"wallet_age_days"`
	TransactionCount int64 `json:"transaction_count"`
	TotalVolumeUSD   int64 `json:"total_volume_usd"` // USD scaled by 1000
	UniqueProtocols  int64 `json:"unique_protocols"`
	DefiPositions    int64 `json:"defi_positions"`
	NFTCount         int64 `json:"nft_count"`
	FailedTxs        int64 `json:"failed_txs"`
	Balance          int64 `json:"sol_balance"` // lamports
}

// Vector returns the metrics in circuit order.
func (m WalletMetrics) Vector() [8]uint64 {
	return [8]uint64{
		uint64(m.WalletAgeDays),
		uint64(m.TransactionCount),
		uint64(m.TotalVolumeUSD),
		uint64(m.UniqueProtocols),
		uint64(m.DefiPositions),
		uint64(m.NFTCount),
		uint64(m.FailedTxs),
		uint64(m.Balance),
	}
}

// Validate returns an error naming the first negative field, if any.
func (m WalletMetrics) Validate() error {
	fields := []struct {
		name  string
		value int64
	}{
		{"wallet_age_days", m.WalletAgeDays},
		{"transaction_count", m.TransactionCount},
		{"total_volume_usd", m.TotalVolumeUSD},
		{"unique_protocols", m.UniqueProtocols},
		{"defi_positions", m.DefiPositions},
		{"nft_count", m.NFTCount},
		{"failed_txs", m.FailedTxs},
		{"sol_balance", m.Balance},
	}
	for _, f := range fields {
		if f.value < 0 {
			return &InvalidFieldError{Field: f.name}
		}
	}
	return nil
}

// InvalidFieldError names the first metrics field that failed validation.
type InvalidFieldError struct {
	Field string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s must be non-negative", e.Field)
}

// RiskLevel is relayed verbatim from the computation network.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)
