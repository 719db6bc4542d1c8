package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// CreditAccount is the decoded on-chain score record for one wallet.
type CreditAccount struct {
	Owner          string
	CurrentScore   uint16
	RiskLevel      uint8 // 0=low 1=medium 2=high
	LastUpdated    int64 // unix seconds
	ScoreTimestamp int64 // unix seconds
}

const (
	creditAccountSeed = "credit"
	discriminatorLen  = 8
	creditAccountLen  = discriminatorLen + 32 + 2 + 1 + 8 + 8
)

// DeriveCreditAccount computes the deterministic per-wallet account address
// for a program. Same wallet and program always map to the same account.
func DeriveCreditAccount(programAddress, walletAddress string) (string, error) {
	program, err := base58.Decode(programAddress)
	if err != nil {
		return "", fmt.Errorf("invalid program address: %w", err)
	}
	wallet, err := base58.Decode(walletAddress)
	if err != nil {
		return "", fmt.Errorf("invalid wallet address: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(creditAccountSeed))
	h.Write(wallet)
	h.Write(program)
	return base58.Encode(h.Sum(nil)), nil
}

// DecodeCreditAccount parses raw account data into a CreditAccount.
func DecodeCreditAccount(data []byte) (*CreditAccount, error) {
	if len(data) < creditAccountLen {
		return nil, fmt.Errorf("credit account data too short: %d bytes", len(data))
	}

	// Skip the 8-byte account discriminator
	buf := data[discriminatorLen:]

	acc := &CreditAccount{
		Owner:          base58.Encode(buf[:32]),
		CurrentScore:   binary.LittleEndian.Uint16(buf[32:34]),
		RiskLevel:      buf[34],
		LastUpdated:    int64(binary.LittleEndian.Uint64(buf[35:43])),
		ScoreTimestamp: int64(binary.LittleEndian.Uint64(buf[43:51])),
	}
	return acc, nil
}

// DeriveProgramAccount computes a deterministic program-owned account
// address from a seed (e.g. the MXE account or a computation definition).
func DeriveProgramAccount(programAddress, seed string) (string, error) {
	program, err := base58.Decode(programAddress)
	if err != nil {
		return "", fmt.Errorf("invalid program address: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(program)
	return base58.Encode(h.Sum(nil)), nil
}

// ExtractMXEPublicKey pulls the network's x25519 public key out of the MXE
// account data.
func ExtractMXEPublicKey(data []byte) ([32]byte, error) {
	var key [32]byte
	if len(data) < discriminatorLen+32 {
		return key, fmt.Errorf("mxe account data too short: %d bytes", len(data))
	}
	copy(key[:], data[discriminatorLen:discriminatorLen+32])
	return key, nil
}

// RiskLevelString maps the on-chain risk tag to its wire string.
func (a *CreditAccount) RiskLevelString() string {
	switch a.RiskLevel {
	case 0:
		return "low"
	case 1:
		return "medium"
	default:
		return "high"
	}
}
