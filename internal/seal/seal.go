// Package seal implements Evidence Sealing (C14): authenticated encryption
// of a session's raw evidence bundle (captured stdout, verdict text) before
// it leaves the sandbox host, so a downstream consumer can detect tampering
// in transit. Grounded on the teacher's CryptoProvider abstraction
// (internal/federation/crypto_provider.go) — a narrow, algorithm-specific
// interface with a single constructor selecting the concrete
// implementation — applied here to symmetric sealing instead of asymmetric
// signing.
package seal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const keySize = 32
const nonceSize = 24

// Sealer seals and opens evidence bundles with a shared symmetric key.
type Sealer struct {
	key [keySize]byte
}

// NewSealer builds a Sealer from a hex-encoded 32-byte key, as produced by
// NewRandomKeyHex.
func NewSealer(keyHex string) (*Sealer, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("seal: decode key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", keySize, len(raw))
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &Sealer{key: key}, nil
}

// NewRandomKeyHex generates a fresh hex-encoded key, for first-run bootstrap
// or key rotation.
func NewRandomKeyHex() (string, error) {
	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("seal: generate key: %w", err)
	}
	return hex.EncodeToString(key[:]), nil
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return sealed, nil
}

// Open verifies and decrypts a nonce||ciphertext blob produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("seal: sealed blob too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("seal: authentication failed")
	}
	return plaintext, nil
}
