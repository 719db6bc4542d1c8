// Package crypto seals a wallet-metrics vector for the confidential
// computation network: an ephemeral x25519 key exchange against the network's
// published public key, then AES-GCM over each field under the derived key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

const (
	// NonceSize is the size of the per-request nonce submitted alongside the
	// ciphertexts.
	NonceSize = 16

	fieldCount = 8
)

// KeyPair is an ephemeral x25519 keypair. The private half must never leave
// the request that created it.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh x25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return kp, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret performs the x25519 exchange with the peer's public key.
func SharedSecret(private [32]byte, peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("key exchange failed: %w", err)
	}
	return secret, nil
}

// GenerateNonce returns a fresh request nonce.
func GenerateNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// SealVector encrypts the 8-field metrics vector under the shared secret.
// Each field becomes one ciphertext. GCM nonces are derived from the request
// nonce plus the field index; the key is unique per request, so derived
// nonces cannot collide across requests.
func SealVector(vector [fieldCount]uint64, sharedSecret []byte, nonce [NonceSize]byte) ([fieldCount][]byte, error) {
	var sealed [fieldCount][]byte

	aead, err := newAEAD(sharedSecret)
	if err != nil {
		return sealed, err
	}

	for i, v := range vector {
		plaintext := make([]byte, 8)
		binary.LittleEndian.PutUint64(plaintext, v)
		sealed[i] = aead.Seal(nil, gcmNonce(nonce, uint32(i)), plaintext, nil)
	}
	return sealed, nil
}

// OpenVector reverses SealVector given the same shared secret and nonce.
func OpenVector(sealed [fieldCount][]byte, sharedSecret []byte, nonce [NonceSize]byte) ([fieldCount]uint64, error) {
	var vector [fieldCount]uint64

	aead, err := newAEAD(sharedSecret)
	if err != nil {
		return vector, err
	}

	for i, ct := range sealed {
		plaintext, err := aead.Open(nil, gcmNonce(nonce, uint32(i)), ct, nil)
		if err != nil {
			return vector, fmt.Errorf("field %d: %w", i, err)
		}
		if len(plaintext) != 8 {
			return vector, errors.New("unexpected plaintext length")
		}
		vector[i] = binary.LittleEndian.Uint64(plaintext)
	}
	return vector, nil
}

func newAEAD(sharedSecret []byte) (cipher.AEAD, error) {
	if len(sharedSecret) == 0 {
		return nil, errors.New("empty shared secret")
	}
	key := sha256.Sum256(sharedSecret)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func gcmNonce(nonce [NonceSize]byte, index uint32) []byte {
	out := make([]byte, 12)
	copy(out, nonce[:8])
	binary.LittleEndian.PutUint32(out[8:], index)
	return out
}
