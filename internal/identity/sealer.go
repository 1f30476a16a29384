package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealNonceSize = 24

// Sealer encrypts HMAC secrets before they are written to the registry so a
// copy of the storage backend does not leak them.
type Sealer struct {
	key [32]byte
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealer key must be 32 bytes, got %d", len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// NewSealerFromPassphrase derives the key as SHA-256 of passphrase.
func NewSealerFromPassphrase(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty sealer passphrase")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return NewSealer(sum[:])
}

// Seal returns nonce ‖ box.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [sealNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealNonceSize+secretbox.Overhead {
		return nil, errors.New("sealed value too short")
	}
	var nonce [sealNonceSize]byte
	copy(nonce[:], sealed[:sealNonceSize])
	plain, ok := secretbox.Open(nil, sealed[sealNonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("sealed value failed authentication")
	}
	return plain, nil
}
