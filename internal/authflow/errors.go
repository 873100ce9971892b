package authflow

import "errors"

// ErrPortInUse indicates the callback listener's configured port is already
// occupied. Not retried automatically; the caller decides what to do.
var ErrPortInUse = errors.New("callback port already in use")

// ErrCallbackTimeout indicates no callback arrived before the wait deadline.
var ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")

// ErrStateMismatch indicates the callback's state parameter did not match
// the one generated for this attempt. The authorization code is discarded
// without being exchanged.
var ErrStateMismatch = errors.New("callback state mismatch")

// ErrCallbackDenied indicates the provider redirected back with an error
// code instead of an authorization code (user declined, or provider-side
// failure).
var ErrCallbackDenied = errors.New("authorization denied")
