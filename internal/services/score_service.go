package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/config"
	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/pkg/crypto"
	"github.com/cypherlabs/cipher-score-api/pkg/ledger"
	"github.com/cypherlabs/cipher-score-api/pkg/mxe"
	"github.com/cypherlabs/cipher-score-api/pkg/walletauth"
)

// LedgerGateway is the slice of the ledger client the orchestrator needs.
type LedgerGateway interface {
	SubmitScoreRequest(ctx context.Context, payer ed25519.PrivateKey, sub ledger.ScoreSubmission) (string, error)
	WaitForFinalization(ctx context.Context, signature string) error
	GetAccountInfo(ctx context.Context, address string) ([]byte, error)
	GetBalance(ctx context.Context, address string) (int64, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]ledger.SignatureInfo, error)
}

// EventSubscriber registers interest in one computation offset.
type EventSubscriber interface {
	Subscribe(offset uint64) (<-chan mxe.ScoreEvent, func())
}

// runtimeState is the readiness and key material the orchestrator reads from
// the runtime.
type runtimeState interface {
	Ready() error
	PayerKey() ed25519.PrivateKey
	PayerAddress() string
	ProgramAddress() string
	MXEPublicKey() [32]byte
}

// ScoreService drives the confidential score computation end to end: seal
// the metrics, submit the request, then wait for the network's result event
// or give up at the deadline.
type ScoreService struct {
	cfg    *config.Config
	rt     runtimeState
	ledger LedgerGateway
	events EventSubscriber
}

func NewScoreService(cfg *config.Config, rt *Runtime) *ScoreService {
	return &ScoreService{
		cfg:    cfg,
		rt:     rt,
		ledger: rt.Ledger,
		events: rt.Events,
	}
}

// ScoreResult is the outcome of a completed computation.
type ScoreResult struct {
	Wallet               string `json:"wallet"`
	Score                uint16 `json:"score"`
	RiskLevel            string `json:"risk_level"`
	TransactionSignature string `json:"transaction_signature"`
	ComputationOffset    uint64 `json:"computation_offset,string"`
}

// CalculateCreditScore runs one confidential computation for a wallet. The
// event subscription is registered before the request is submitted, so a
// result that lands between submit and wait cannot be missed, and both the
// subscription and the deadline timer are released on every exit path.
func (s *ScoreService) CalculateCreditScore(ctx context.Context, walletAddress string, metrics models.WalletMetrics) (*ScoreResult, error) {
	if err := s.rt.Ready(); err != nil {
		return nil, err
	}
	// Manual submissions carry no wallet of their own; the computation runs
	// against the service wallet.
	if walletAddress == "" {
		walletAddress = s.rt.PayerAddress()
	}
	if !walletauth.IsValidAddress(walletAddress) {
		return nil, ErrInvalidAddress
	}
	if err := metrics.Validate(); err != nil {
		return nil, err
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	sharedSecret, err := crypto.SharedSecret(keyPair.Private, s.rt.MXEPublicKey())
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertexts, err := crypto.SealVector(metrics.Vector(), sharedSecret, nonce)
	if err != nil {
		return nil, err
	}

	offset, err := randomOffset()
	if err != nil {
		return nil, err
	}

	creditAccount, err := ledger.DeriveCreditAccount(s.rt.ProgramAddress(), walletAddress)
	if err != nil {
		return nil, err
	}

	events, cancel := s.events.Subscribe(offset)
	defer cancel()

	timer := time.NewTimer(s.cfg.ComputationTimeout)
	defer timer.Stop()

	signature, err := s.ledger.SubmitScoreRequest(ctx, s.rt.PayerKey(), ledger.ScoreSubmission{
		ComputationOffset: offset,
		ClusterOffset:     s.cfg.ClusterOffset,
		Wallet:            walletAddress,
		CreditAccount:     creditAccount,
		Ciphertexts:       ciphertexts,
		ClientPublicKey:   keyPair.Public,
		Nonce:             nonce,
	})
	if err != nil {
		return nil, classifySubmissionError(err, s.cfg.CooldownPeriod)
	}

	log.Info().
		Str("wallet", walletAddress).
		Uint64("computation_offset", offset).
		Str("signature", signature).
		Msg("Score request submitted")

	select {
	case event := <-events:
		s.awaitFinalization(signature, walletAddress)
		return &ScoreResult{
			Wallet:               walletAddress,
			Score:                event.Score,
			RiskLevel:            event.RiskLevel,
			TransactionSignature: signature,
			ComputationOffset:    offset,
		}, nil
	case <-timer.C:
		return nil, ErrComputationTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// awaitFinalization confirms the submission transaction in the background.
// The score was already delivered by event; finalization failures only get
// logged.
func (s *ScoreService) awaitFinalization(signature, walletAddress string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FinalizationWait)
		defer cancel()
		if err := s.ledger.WaitForFinalization(ctx, signature); err != nil {
			log.Warn().Err(err).
				Str("wallet", walletAddress).
				Str("signature", signature).
				Msg("Score transaction finalization not confirmed")
			return
		}
		log.Debug().Str("signature", signature).Msg("Score transaction finalized")
	}()
}

const metricsSignatureDepth = 1000

// FetchWalletMetrics builds the input vector from public ledger data. Only
// age, transaction counts and balance can be observed this way; the
// remaining fields stay zero.
func (s *ScoreService) FetchWalletMetrics(ctx context.Context, walletAddress string) (models.WalletMetrics, error) {
	var metrics models.WalletMetrics
	if !walletauth.IsValidAddress(walletAddress) {
		return metrics, ErrInvalidAddress
	}

	balance, err := s.ledger.GetBalance(ctx, walletAddress)
	if err != nil {
		return metrics, err
	}
	metrics.Balance = balance

	sigs, err := s.ledger.GetSignaturesForAddress(ctx, walletAddress, metricsSignatureDepth)
	if err != nil {
		return metrics, err
	}
	metrics.TransactionCount = int64(len(sigs))
	for _, sig := range sigs {
		if sig.Err != nil {
			metrics.FailedTxs++
		}
	}
	if len(sigs) > 0 {
		oldest := sigs[len(sigs)-1]
		if oldest.BlockTime != nil {
			age := time.Since(time.Unix(*oldest.BlockTime, 0))
			metrics.WalletAgeDays = int64(age.Hours() / 24)
		}
	}
	return metrics, nil
}

// WalletStatus is the public view of a wallet's on-chain score record. The
// cooldown field reads "ready" once another update is allowed.
type WalletStatus struct {
	Wallet            string     `json:"wallet_address"`
	HasScore          bool       `json:"account_exists"`
	Score             *uint16    `json:"current_score,omitempty"`
	RiskLevel         *string    `json:"risk_level,omitempty"`
	LastUpdated       *time.Time `json:"last_updated,omitempty"`
	CooldownRemaining string     `json:"cooldown_remaining"`
}

// WalletStatus reads the wallet's credit account, if it exists, and reports
// the remaining update cooldown. An empty address means the service wallet.
func (s *ScoreService) WalletStatus(ctx context.Context, walletAddress string) (*WalletStatus, error) {
	if walletAddress == "" {
		walletAddress = s.rt.PayerAddress()
	}
	if !walletauth.IsValidAddress(walletAddress) {
		return nil, ErrInvalidAddress
	}

	creditAccount, err := ledger.DeriveCreditAccount(s.rt.ProgramAddress(), walletAddress)
	if err != nil {
		return nil, err
	}

	data, err := s.ledger.GetAccountInfo(ctx, creditAccount)
	if err != nil {
		return nil, err
	}
	status := &WalletStatus{Wallet: walletAddress, CooldownRemaining: "ready"}
	if data == nil {
		return status, nil
	}

	account, err := ledger.DecodeCreditAccount(data)
	if err != nil {
		return nil, err
	}
	risk := account.RiskLevelString()
	updated := time.Unix(account.LastUpdated, 0).UTC()
	status.HasScore = true
	status.Score = &account.CurrentScore
	status.RiskLevel = &risk
	status.LastUpdated = &updated

	if remaining := s.cfg.CooldownPeriod - time.Since(updated); remaining > 0 {
		status.CooldownRemaining = remaining.Round(time.Second).String()
	}
	return status, nil
}

func randomOffset() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
