// Package walletauth implements the challenge-response primitives for wallet
// signature authentication: nonce generation, challenge message construction
// and detached ed25519 signature verification against base58 addresses.
package walletauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// GenerateNonce returns a cryptographically random single-use challenge value.
func GenerateNonce() string {
	return randomHex(32)
}

// GenerateSessionToken returns an opaque bearer token with a recognizable prefix.
func GenerateSessionToken() string {
	return "sess_" + randomHex(32)
}

// GenerateAPIKey returns a new plaintext API key. The prefix makes leaked keys
// identifiable in scanners and logs.
func GenerateAPIKey() string {
	return "cypher_" + randomHex(32)
}

// BuildChallengeMessage constructs the exact message the wallet must sign.
// The domain label and timestamp bind the signature to this application and
// this moment, so it cannot be replayed elsewhere.
func BuildChallengeMessage(domain, walletAddress, nonce string, now time.Time) string {
	return fmt.Sprintf(`Welcome to %s!

This request will not trigger a blockchain transaction or cost any gas fees.

Your authentication status will reset after 24 hours.

Wallet address: %s
Nonce: %s
Timestamp: %s`, domain, walletAddress, nonce, now.UTC().Format(time.RFC3339))
}

// VerifySignature checks a detached ed25519 signature over the exact message
// bytes. The wallet address is the base58-encoded public key. Any decode or
// format error is an authentication failure, never a crash.
func VerifySignature(message, signature, walletAddress string) bool {
	sigBytes, err := base58.Decode(signature)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}

	pubBytes, err := base58.Decode(walletAddress)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pubBytes), []byte(message), sigBytes)
}

// IsValidAddress reports whether the address is structurally a valid wallet
// address (base58, 32 bytes decoded). It says nothing about existence.
func IsValidAddress(address string) bool {
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == ed25519.PublicKeySize
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}
