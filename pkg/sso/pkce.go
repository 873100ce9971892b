package sso

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy. Base64url-encoded this yields a
	// 43-character verifier, within the 43-128 range RFC 7636 requires.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	stateBytes = 32
)

// PKCEChallenge holds the parameters for one PKCE authorization attempt.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random secret. It is kept local
	// and only transmitted in the token-exchange call.
	CodeVerifier string

	// CodeChallenge is the S256 hash of the verifier, base64url-encoded.
	// This is what goes into the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	hash := sha256.Sum256([]byte(verifier))

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(hash[:]),
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState generates a random state parameter binding an authorization
// response back to the attempt that produced it (CSRF defense).
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyState reports whether a state value received on the callback matches
// the one generated for this attempt. Empty values never match: a missing
// state parameter is treated as a mismatch, not as "nothing to check".
func VerifyState(expected, received string) bool {
	if expected == "" || received == "" {
		return false
	}
	return expected == received
}
