package sso

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier validates SSO access tokens against the provider's JWKS and
// extracts the character identity from the claims. This is how the flow
// resolves which character a freshly issued token belongs to.
type Verifier struct {
	jwksURI  string
	audience string
	issuers  []string
	cache    *jwk.Cache
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithJWKSURI overrides the JWKS endpoint.
func WithJWKSURI(uri string) VerifierOption {
	return func(v *Verifier) {
		v.jwksURI = uri
	}
}

// WithAudience overrides the expected audience claim.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) {
		v.audience = audience
	}
}

// WithIssuers overrides the accepted issuer values. The SSO has issued
// tokens with both the bare host and the https URL over its lifetime, so
// more than one value is accepted.
func WithIssuers(issuers ...string) VerifierOption {
	return func(v *Verifier) {
		v.issuers = issuers
	}
}

// NewVerifier creates a Verifier with a background-refreshing JWKS cache.
// The context controls the lifetime of the cache's refresh goroutine.
func NewVerifier(ctx context.Context, opts ...VerifierOption) (*Verifier, error) {
	v := &Verifier{
		jwksURI:  DefaultJWKSURI,
		audience: DefaultAudience,
		issuers:  []string{DefaultIssuer, "login.eveonline.com"},
	}

	for _, opt := range opts {
		opt(v)
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(v.jwksURI, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
	}
	v.cache = cache

	return v, nil
}

// Verify validates the access token's signature, expiry, and audience, and
// returns the character identity from its claims.
func (v *Verifier) Verify(ctx context.Context, accessToken string) (*CharacterClaims, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURI)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	tok, err := jwt.Parse(
		[]byte(accessToken),
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithAudience(v.audience),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("access token validation failed: %w", err)
	}

	if !v.issuerAllowed(tok.Issuer()) {
		return nil, fmt.Errorf("access token has unexpected issuer %q", tok.Issuer())
	}

	characterID, err := parseCharacterSubject(tok.Subject())
	if err != nil {
		return nil, err
	}

	claims := &CharacterClaims{
		CharacterID: characterID,
	}

	if name, ok := tok.Get("name"); ok {
		claims.CharacterName, _ = name.(string)
	}
	if owner, ok := tok.Get("owner"); ok {
		claims.Owner, _ = owner.(string)
	}
	if scp, ok := tok.Get("scp"); ok {
		claims.Scopes = parseScopes(scp)
	}

	return claims, nil
}

func (v *Verifier) issuerAllowed(issuer string) bool {
	for _, allowed := range v.issuers {
		if issuer == allowed {
			return true
		}
	}
	return false
}

// parseCharacterSubject extracts the numeric character id from the sub
// claim, which the SSO formats as "CHARACTER:EVE:<id>".
func parseCharacterSubject(subject string) (int64, error) {
	parts := strings.Split(subject, ":")
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("access token has malformed subject %q", subject)
	}
	return id, nil
}

// parseScopes normalizes the scp claim, which is a bare string for a single
// scope and a list for several.
func parseScopes(scp interface{}) []string {
	switch val := scp.(type) {
	case string:
		return []string{val}
	case []interface{}:
		scopes := make([]string, 0, len(val))
		for _, s := range val {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	default:
		return nil
	}
}
