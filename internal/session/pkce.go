package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCE holds the per-login secrets of an authorization code flow.
type PKCE struct {
	Verifier  string
	Challenge string
	State     string
	Nonce     string
}

// NewPKCE draws a fresh verifier, state and nonce and derives the S256 challenge.
func NewPKCE() (PKCE, error) {
	verifier, err := randomString(32)
	if err != nil {
		return PKCE{}, err
	}
	state, err := randomString(16)
	if err != nil {
		return PKCE{}, err
	}
	nonce, err := randomString(16)
	if err != nil {
		return PKCE{}, err
	}

	return PKCE{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		State:     state,
		Nonce:     nonce,
	}, nil
}

// Challenge returns base64url(SHA-256(verifier)) without padding.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
