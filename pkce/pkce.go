// Package pkce generates the per-launch secrets of an authorization code
// flow: the PKCE verifier and challenge, the anti-forgery state and the OIDC nonce.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"golang.org/x/oauth2"
)

const (
	VerifierBytes = 32 // 43 base64url characters
	StateBytes    = 16
	NonceBytes    = 16

	MethodS256 = "S256"
)

// Random is the entropy source. It can be overridden in tests.
var Random io.Reader = rand.Reader

// Params holds four independent random values for one launch.
type Params struct {
	CodeVerifier  string `json:"codeVerifier"`
	CodeChallenge string `json:"codeChallenge"`
	State         string `json:"state"`
	Nonce         string `json:"nonce"`
}

// Generate creates a fresh set of launch secrets. Any failure of the random
// source is returned as ErrRandomUnavailable and must abort the launch.
func Generate() (*Params, error) {
	verifierBytes, err := randomBytes(VerifierBytes)
	if err != nil {
		return nil, err
	}
	stateBytes, err := randomBytes(StateBytes)
	if err != nil {
		return nil, err
	}
	nonceBytes, err := randomBytes(NonceBytes)
	if err != nil {
		return nil, err
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	return &Params{
		CodeVerifier:  verifier,
		CodeChallenge: Challenge(verifier),
		State:         hex.EncodeToString(stateBytes),
		Nonce:         hex.EncodeToString(nonceBytes),
	}, nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Random, b); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrRandomUnavailable, err)
	}
	return b, nil
}
