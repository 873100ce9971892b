package store

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRefreshBuffer is how long before expiry a token is considered due
// for refresh.
const DefaultRefreshBuffer = 5 * time.Minute

// CredentialSet is one registered application's OAuth identity, imported
// from a developer-console export. Immutable once stored.
type CredentialSet struct {
	// Name is the application name as registered with the provider.
	Name string `json:"name,omitempty"`

	// ClientID is the provider-assigned client id. Unique within a store.
	ClientID string `json:"client_id"`

	// ClientSecret is absent for public PKCE clients.
	ClientSecret string `json:"client_secret,omitempty"`

	// RedirectURI is the registered callback URL.
	RedirectURI string `json:"redirect_uri"`

	// Alias is a human-friendly handle, unique within a store. Derived from
	// Name when not supplied explicitly.
	Alias string `json:"alias"`

	// Scopes are the default scopes requested when authenticating with
	// these credentials.
	Scopes []string `json:"scopes,omitempty"`
}

// Clone returns an independent copy.
func (c *CredentialSet) Clone() CredentialSet {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	return out
}

// Matches reports whether ref identifies this credential by client_id or
// alias.
func (c *CredentialSet) Matches(ref string) bool {
	return c.ClientID == ref || c.Alias == ref
}

var aliasStrip = regexp.MustCompile(`[^a-z0-9_-]+`)

// DeriveAlias derives a store alias from an application name: lowercased,
// spaces collapsed to underscores, everything else dropped.
func DeriveAlias(name string) string {
	alias := strings.ToLower(strings.TrimSpace(name))
	alias = strings.ReplaceAll(alias, " ", "_")
	return aliasStrip.ReplaceAllString(alias, "")
}

// CharacterToken is one character's issued token bundle plus metadata.
type CharacterToken struct {
	// OwningCredential is the client_id of the CredentialSet this token was
	// issued under. Lookup back-reference, not ownership.
	OwningCredential string `json:"owning_credential"`

	// CharacterID is the subject identifier from the SSO. Unique within the
	// tokens of one credential.
	CharacterID int64 `json:"character_id"`

	// CharacterName is the character's name at issuance time.
	CharacterName string `json:"character_name"`

	// AccessToken is the short-lived bearer token. Secret.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived refresh credential. Secret, and
	// potentially rotated on every refresh.
	RefreshToken string `json:"refresh_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt is the absolute UTC expiry, always derived from the
	// provider's expires_in plus the response receipt time.
	ExpiresAt time.Time `json:"expires_at"`

	// Scopes are the scopes the provider actually granted.
	Scopes []string `json:"scopes"`

	// NeedsReauth marks a token whose refresh token was definitively
	// rejected. The token stays in the store so the failure is visible, but
	// only a new interactive authentication can revive it.
	NeedsReauth bool `json:"needs_reauth,omitempty"`

	// CreatedAt is when the token was first issued.
	CreatedAt time.Time `json:"created_at,omitempty"`

	// UpdatedAt is when the token was last refreshed.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsExpired reports whether the access token has expired.
func (t *CharacterToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// NeedsRefresh reports whether the token is expired or within buffer of
// expiry. The boundary instant itself counts as needing refresh.
func (t *CharacterToken) NeedsRefresh(buffer time.Duration) bool {
	return !time.Now().Before(t.ExpiresAt.Add(-buffer))
}

// Clone returns an independent copy. Returned tokens are always clones so
// callers can never mutate the store through them.
func (t *CharacterToken) Clone() CharacterToken {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	return out
}

// OAuth2Token converts to an oauth2.Token so embedding applications can
// feed it to oauth2-aware HTTP clients.
func (t *CharacterToken) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
}

// Snapshot is a complete, self-consistent copy of the persisted store. All
// mutation helpers operate on the snapshot; the Store persists whole
// snapshots only, never partial updates.
type Snapshot struct {
	Credentials []CredentialSet  `json:"credentials"`
	Tokens      []CharacterToken `json:"tokens"`
}

// NewSnapshot returns an empty snapshot (the first-run state).
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Credentials: []CredentialSet{},
		Tokens:      []CharacterToken{},
	}
}
