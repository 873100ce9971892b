package sso

import (
	"errors"
	"fmt"
)

// ErrRefreshRejected indicates the SSO definitively rejected a refresh token
// (revoked, expired, or otherwise invalid). Terminal for that token: the
// character must re-authenticate.
var ErrRefreshRejected = errors.New("refresh token rejected")

// ErrRefreshUnavailable indicates a transient failure (network error or SSO
// 5xx) during refresh. The stored token is still usable for a later retry.
var ErrRefreshUnavailable = errors.New("refresh temporarily unavailable")

// ProviderError is a non-2xx response from an SSO endpoint, carrying the
// OAuth error code when the body included one.
type ProviderError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Code is the OAuth error code (e.g. "invalid_grant"), if present.
	Code string

	// Description is the human-readable error_description, if present.
	Description string
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("sso returned %d: %s - %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("sso returned %d: %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("sso returned %d", e.StatusCode)
	}
}

// Temporary reports whether the error looks like a server-side transient
// failure rather than a definitive rejection.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode >= 500
}

// rejectedCodes are the OAuth error codes that mean a refresh token is dead.
var rejectedCodes = map[string]bool{
	"invalid_grant": true,
	"invalid_token": true,
}

// classifyRefreshError wraps a refresh failure with the sentinel callers
// branch on: ErrRefreshRejected for dead tokens, ErrRefreshUnavailable for
// transient failures, and the bare ProviderError otherwise.
func classifyRefreshError(err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		// Network-level failure, no response at all.
		return fmt.Errorf("%w: %w", ErrRefreshUnavailable, err)
	}

	if pe.Temporary() {
		return fmt.Errorf("%w: %w", ErrRefreshUnavailable, err)
	}
	if rejectedCodes[pe.Code] {
		return fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	}
	return err
}
