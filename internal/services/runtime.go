package services

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/config"
	"github.com/cypherlabs/cipher-score-api/pkg/ledger"
	"github.com/cypherlabs/cipher-score-api/pkg/mxe"
)

const (
	mxeAccountSeed     = "mxe"
	compDefAccountSeed = "comp_def:calculate_credit_score"

	mxeKeyRetries    = 10
	mxeKeyRetryDelay = 500 * time.Millisecond
)

// Runtime holds the ledger and computation-network handles for the process.
// Nothing touches the ledger before Init has completed; not-ready calls fail
// fast with ErrNotInitialized.
type Runtime struct {
	cfg    *config.Config
	Ledger *ledger.Client
	Events *mxe.Stream

	payerKey     ed25519.PrivateKey
	payerAddress string

	mu                 sync.RWMutex
	mxePublicKey       [32]byte
	compDefInitialized bool
	ready              bool
}

func NewRuntime(cfg *config.Config, ledgerClient *ledger.Client, events *mxe.Stream) *Runtime {
	return &Runtime{
		cfg:    cfg,
		Ledger: ledgerClient,
		Events: events,
	}
}

// Init loads the payer wallet, fetches the MXE public key and checks whether
// the computation definition exists on-chain.
func (rt *Runtime) Init(ctx context.Context) error {
	key, err := loadPayerWallet(rt.cfg.PayerWalletPath)
	if err != nil {
		return fmt.Errorf("failed to load payer wallet: %w", err)
	}
	rt.payerKey = key
	rt.payerAddress = base58.Encode(key.Public().(ed25519.PublicKey))
	log.Info().Str("address", rt.payerAddress).Msg("Loaded payer wallet")

	balance, err := rt.Ledger.GetBalance(ctx, rt.payerAddress)
	if err != nil {
		return fmt.Errorf("failed to check payer balance: %w", err)
	}
	log.Info().Int64("lamports", balance).Msg("Payer balance")
	if balance < 100_000_000 { // 0.1 SOL
		log.Warn().Msg("Low payer balance, transactions may fail")
	}

	mxeKey, err := rt.fetchMXEPublicKey(ctx)
	if err != nil {
		return err
	}

	compDefAccount, err := ledger.DeriveProgramAccount(rt.cfg.ProgramAddress, compDefAccountSeed)
	if err != nil {
		return err
	}
	compDefExists, err := rt.Ledger.AccountExists(ctx, compDefAccount)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check computation definition account")
	}
	if compDefExists {
		log.Info().Msg("Computation definition already initialized")
	} else {
		log.Info().Msg("Computation definition not initialized, use POST /admin/init_comp_def")
	}

	rt.mu.Lock()
	rt.mxePublicKey = mxeKey
	rt.compDefInitialized = compDefExists
	rt.ready = true
	rt.mu.Unlock()

	return nil
}

func (rt *Runtime) fetchMXEPublicKey(ctx context.Context) ([32]byte, error) {
	var key [32]byte

	mxeAccount, err := ledger.DeriveProgramAccount(rt.cfg.ProgramAddress, mxeAccountSeed)
	if err != nil {
		return key, err
	}

	for attempt := 1; attempt <= mxeKeyRetries; attempt++ {
		data, err := rt.Ledger.GetAccountInfo(ctx, mxeAccount)
		if err == nil && data != nil {
			key, err = ledger.ExtractMXEPublicKey(data)
			if err == nil {
				log.Info().Msg("MXE x25519 public key obtained")
				return key, nil
			}
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Failed to fetch MXE public key")
		}

		select {
		case <-ctx.Done():
			return key, ctx.Err()
		case <-time.After(mxeKeyRetryDelay):
		}
	}
	return key, fmt.Errorf("failed to fetch MXE public key after %d attempts", mxeKeyRetries)
}

// Ready fails with ErrNotInitialized until Init has completed.
func (rt *Runtime) Ready() error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if !rt.ready {
		return ErrNotInitialized
	}
	return nil
}

// CompDefInitialized reports whether the computation definition exists.
func (rt *Runtime) CompDefInitialized() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.compDefInitialized
}

// InitCompDef submits the computation-definition initialization transaction.
// Safe to call when already initialized; the program reports it and we treat
// that as success.
func (rt *Runtime) InitCompDef(ctx context.Context) (string, error) {
	if err := rt.Ready(); err != nil {
		return "", err
	}

	sig, err := rt.Ledger.SubmitCompDefInit(ctx, rt.payerKey, rt.cfg.ProgramAddress)
	if err != nil {
		return "", err
	}

	rt.mu.Lock()
	rt.compDefInitialized = true
	rt.mu.Unlock()

	log.Info().Str("signature", sig).Msg("Computation definition initialized")
	return sig, nil
}

// MXEPublicKey returns the computation network's published x25519 key.
func (rt *Runtime) MXEPublicKey() [32]byte {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.mxePublicKey
}

func (rt *Runtime) PayerKey() ed25519.PrivateKey { return rt.payerKey }
func (rt *Runtime) PayerAddress() string         { return rt.payerAddress }
func (rt *Runtime) ProgramAddress() string       { return rt.cfg.ProgramAddress }

// WalletInfo is the payer wallet summary exposed by GET /wallet.
type WalletInfo struct {
	PublicKey          string  `json:"public_key"`
	BalanceSOL         float64 `json:"balance_sol"`
	BalanceLamports    int64   `json:"balance_lamports"`
	ProgramAddress     string  `json:"program_address"`
	CompDefInitialized bool    `json:"comp_def_initialized"`
}

func (rt *Runtime) WalletInfo(ctx context.Context) (*WalletInfo, error) {
	if err := rt.Ready(); err != nil {
		return nil, err
	}
	balance, err := rt.Ledger.GetBalance(ctx, rt.payerAddress)
	if err != nil {
		return nil, err
	}
	return &WalletInfo{
		PublicKey:          rt.payerAddress,
		BalanceSOL:         float64(balance) / 1_000_000_000,
		BalanceLamports:    balance,
		ProgramAddress:     rt.cfg.ProgramAddress,
		CompDefInitialized: rt.CompDefInitialized(),
	}, nil
}

// loadPayerWallet reads a JSON array of secret key bytes.
func loadPayerWallet(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("wallet file is not a JSON byte array: %w", err)
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("expected %d key bytes, got %d", ed25519.PrivateKeySize, len(values))
	}
	keyBytes := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("key byte %d out of range: %d", i, v)
		}
		keyBytes[i] = byte(v)
	}
	return ed25519.PrivateKey(keyBytes), nil
}
