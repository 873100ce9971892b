// Package sso implements the EVE Online SSO OAuth2 protocol layer.
//
// It provides the building blocks used by the authentication flow:
//
//   - PKCE code verifier/challenge and state generation
//   - SSO endpoint metadata discovery with caching
//   - Token endpoint operations (authorization-code exchange, refresh)
//   - Access-token (JWT) verification against the SSO JWKS, which resolves
//     the owning character's identity
//
// The package is transport-only: it never touches persisted state. Token
// persistence and refresh orchestration live in internal/store and
// internal/token.
package sso
