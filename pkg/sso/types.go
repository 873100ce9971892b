package sso

import (
	"strings"
	"time"
)

// Default EVE Online SSO endpoints. These are used until metadata discovery
// replaces them with whatever the well-known document advertises.
const (
	DefaultMetadataURL           = "https://login.eveonline.com/.well-known/oauth-authorization-server"
	DefaultAuthorizationEndpoint = "https://login.eveonline.com/v2/oauth/authorize"
	DefaultTokenEndpoint         = "https://login.eveonline.com/v2/oauth/token"
	DefaultRevocationEndpoint    = "https://login.eveonline.com/v2/oauth/revoke"
	DefaultJWKSURI               = "https://login.eveonline.com/oauth/jwks"
	DefaultIssuer                = "https://login.eveonline.com"

	// DefaultAudience is the audience claim CCP puts in SSO access tokens.
	DefaultAudience = "EVE Online"
)

// Metadata represents the OAuth authorization-server metadata advertised by
// the SSO's well-known endpoint.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	JWKSURI                       string   `json:"jwks_uri,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// DefaultMetadata returns the well-known EVE SSO endpoints. Used as a
// fallback when discovery has not run or is unreachable.
func DefaultMetadata() *Metadata {
	return &Metadata{
		Issuer:                DefaultIssuer,
		AuthorizationEndpoint: DefaultAuthorizationEndpoint,
		TokenEndpoint:         DefaultTokenEndpoint,
		RevocationEndpoint:    DefaultRevocationEndpoint,
		JWKSURI:               DefaultJWKSURI,
	}
}

// Token is a token endpoint response.
type Token struct {
	// AccessToken is the bearer token used to call ESI. For EVE SSO this is
	// a JWT carrying the character's identity.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken obtains new access tokens without re-prompting the user.
	// The SSO may rotate it: always persist what the response carries.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in,omitempty"`

	// ReceivedAt is when the response was received. ExpiresAt derivations
	// use this, never a client-side estimate made later.
	ReceivedAt time.Time `json:"-"`
}

// ExpiresAt returns the absolute UTC expiry derived from the provider's
// expires_in field and the response receipt time.
func (t *Token) ExpiresAt() time.Time {
	return t.ReceivedAt.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
}

// CharacterClaims is the character identity carried in a validated SSO
// access token.
type CharacterClaims struct {
	// CharacterID is the numeric character id from the sub claim
	// ("CHARACTER:EVE:<id>").
	CharacterID int64

	// CharacterName is the name claim.
	CharacterName string

	// Scopes are the granted scopes from the scp claim. May be a subset of
	// what was requested.
	Scopes []string

	// Owner changes when the character is transferred to another account.
	Owner string
}

// JoinScopes renders a scope list as the space-separated string the
// authorization request wants.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
