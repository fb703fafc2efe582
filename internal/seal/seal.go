// Package seal encrypts and authenticates small values (cookie payloads,
// stored session records) with XSalsa20-Poly1305.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrInvalidSealed = errors.New("sealed value is invalid or has been tampered with")

// Sealer seals values under a key derived from a master secret and a purpose
// label, so the same secret can safely key cookies and storage separately.
type Sealer struct {
	key [keySize]byte
}

// New derives a sealing key for purpose from secret using HKDF-SHA256.
func New(secret []byte, purpose string) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("seal: secret must be at least 16 bytes, got %d", len(secret))
	}
	s := &Sealer{}
	r := hkdf.New(sha256.New, secret, nil, []byte("ehr-connect/"+purpose))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	return s, nil
}

// DeriveKey returns independent key material for purpose, for use outside
// secretbox (for example HMAC signing keys).
func DeriveKey(secret []byte, purpose string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, secret, nil, []byte("ehr-connect/"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	return key, nil
}

// Seal returns base64url(nonce || box).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("seal: nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrInvalidSealed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrInvalidSealed
	}
	return plaintext, nil
}
