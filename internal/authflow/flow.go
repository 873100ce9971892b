// Package authflow orchestrates PKCE authentication attempts against the
// EVE SSO: authorization URL construction, the local callback receiver, the
// code exchange, and refresh-token grants.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"esiauth/internal/store"
	"esiauth/pkg/sso"
)

// State is where one authentication attempt currently is.
type State int

const (
	// StateIdle means no attempt has started.
	StateIdle State = iota

	// StateAwaitingAuthorization means the authorization URL is built, the
	// callback receiver is listening, and we are waiting on the user.
	StateAwaitingAuthorization

	// StateExchangingCode means a state-matched authorization code arrived
	// and the token exchange is in flight.
	StateExchangingCode

	// StateComplete means the attempt succeeded and the token is stored.
	StateComplete

	// StateFailed is terminal for the attempt. The cause is preserved.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAuthorization:
		return "awaiting_authorization"
	case StateExchangingCode:
		return "exchanging_code"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Controller. All collaborators are explicit; nothing
// is read from ambient globals, so multiple credential profiles can coexist.
type Config struct {
	// SSOClient performs the protocol operations. Required.
	SSOClient *sso.Client

	// Verifier resolves character identity from issued access tokens.
	// Required.
	Verifier *sso.Verifier

	// Store receives the token issued by a successful authentication.
	// Required for Authenticate, unused by Refresh.
	Store *store.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// CallbackTimeout bounds the wait for the browser callback. Defaults
	// to DefaultCallbackTimeout.
	CallbackTimeout time.Duration

	// OpenBrowser drives the user's browser to the authorization URL.
	// Defaults to OpenBrowser. Failure is non-fatal.
	OpenBrowser func(url string) error

	// OnAuthURL, when set, receives the authorization URL before the flow
	// blocks on the callback, so the CLI can surface it for manual use.
	OnAuthURL func(url string)
}

// Controller runs one PKCE authentication (or refresh) attempt end to end.
type Controller struct {
	ssoClient       *sso.Client
	verifier        *sso.Verifier
	store           *store.Store
	logger          *slog.Logger
	callbackTimeout time.Duration
	openBrowser     func(url string) error
	onAuthURL       func(url string)

	mu      sync.Mutex
	state   State
	lastErr error
}

// NewController creates a flow controller.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	openBrowser := cfg.OpenBrowser
	if openBrowser == nil {
		openBrowser = OpenBrowser
	}
	timeout := cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}

	return &Controller{
		ssoClient:       cfg.SSOClient,
		verifier:        cfg.Verifier,
		store:           cfg.Store,
		logger:          logger,
		callbackTimeout: timeout,
		openBrowser:     openBrowser,
		onAuthURL:       cfg.OnAuthURL,
	}
}

// State returns where the current attempt is.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the cause of the last failed attempt.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// Authenticate runs one end-to-end PKCE authentication for the credential:
// authorization URL, browser, callback, code exchange, identity resolution,
// and upsert into the store. On any failure the store is left unmodified
// and the underlying cause is returned.
func (c *Controller) Authenticate(ctx context.Context, cred store.CredentialSet, scopes []string) (store.CharacterToken, error) {
	attemptID := uuid.NewString()
	c.setState(StateIdle)

	metadata, err := c.ssoClient.DiscoverMetadata(ctx)
	if err != nil {
		return store.CharacterToken{}, c.fail(fmt.Errorf("metadata discovery failed: %w", err))
	}

	pkce, err := sso.GeneratePKCE()
	if err != nil {
		return store.CharacterToken{}, c.fail(err)
	}
	state, err := sso.GenerateState()
	if err != nil {
		return store.CharacterToken{}, c.fail(err)
	}

	receiver, err := NewCallbackReceiver(cred.RedirectURI, state)
	if err != nil {
		return store.CharacterToken{}, c.fail(err)
	}
	if err := receiver.Start(ctx); err != nil {
		return store.CharacterToken{}, c.fail(err)
	}
	defer receiver.Stop()

	authURL, err := c.ssoClient.BuildAuthorizationURL(metadata, sso.AuthorizationRequest{
		ClientID:    cred.ClientID,
		RedirectURI: cred.RedirectURI,
		Scopes:      scopes,
		State:       state,
		PKCE:        pkce,
	})
	if err != nil {
		return store.CharacterToken{}, c.fail(fmt.Errorf("failed to build authorization URL: %w", err))
	}

	c.setState(StateAwaitingAuthorization)
	c.logger.Info("Awaiting SSO authorization",
		"attempt_id", attemptID,
		"credential", cred.Alias,
		"callback", receiver.Addr(),
	)

	if c.onAuthURL != nil {
		c.onAuthURL(authURL)
	}
	if err := c.openBrowser(authURL); err != nil {
		// Non-fatal: the URL has been surfaced for manual use.
		c.logger.Warn("Failed to open browser, open the authorization URL manually",
			"attempt_id", attemptID,
			"error", err.Error(),
		)
	}

	code, err := receiver.Wait(ctx, c.callbackTimeout)
	if err != nil {
		return store.CharacterToken{}, c.fail(err)
	}

	c.setState(StateExchangingCode)

	ssoToken, err := c.ssoClient.ExchangeCode(ctx, metadata, cred.ClientID, cred.ClientSecret, code, cred.RedirectURI, pkce.CodeVerifier)
	if err != nil {
		return store.CharacterToken{}, c.fail(fmt.Errorf("token exchange failed: %w", err))
	}

	claims, err := c.verifier.Verify(ctx, ssoToken.AccessToken)
	if err != nil {
		return store.CharacterToken{}, c.fail(err)
	}

	now := time.Now().UTC()
	token := store.CharacterToken{
		OwningCredential: cred.ClientID,
		CharacterID:      claims.CharacterID,
		CharacterName:    claims.CharacterName,
		AccessToken:      ssoToken.AccessToken,
		RefreshToken:     ssoToken.RefreshToken,
		TokenType:        ssoToken.TokenType,
		ExpiresAt:        ssoToken.ExpiresAt(),
		Scopes:           claims.Scopes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.store.UpsertToken(token); err != nil {
		return store.CharacterToken{}, c.fail(fmt.Errorf("failed to store token: %w", err))
	}

	c.setState(StateComplete)
	c.logger.Info("Authentication complete",
		"attempt_id", attemptID,
		"credential", cred.Alias,
		"character_id", token.CharacterID,
		"character_name", token.CharacterName,
	)

	return token, nil
}

// Refresh exchanges the token's refresh token for a new access token. No
// browser, no callback. The updated copy is returned; persistence belongs
// to the caller, which may be batching several refreshes into one save.
//
// A definitively rejected refresh token returns the token marked
// NeedsReauth alongside sso.ErrRefreshRejected so the mark can be
// persisted. Transient failures return the token untouched with
// sso.ErrRefreshUnavailable.
func (c *Controller) Refresh(ctx context.Context, cred store.CredentialSet, token store.CharacterToken) (store.CharacterToken, error) {
	metadata, err := c.ssoClient.DiscoverMetadata(ctx)
	if err != nil {
		return token, fmt.Errorf("%w: metadata discovery failed: %w", sso.ErrRefreshUnavailable, err)
	}

	ssoToken, err := c.ssoClient.RefreshToken(ctx, metadata, cred.ClientID, cred.ClientSecret, token.RefreshToken)
	if err != nil {
		if errors.Is(err, sso.ErrRefreshRejected) {
			marked := token.Clone()
			marked.NeedsReauth = true
			c.logger.Warn("Refresh token rejected, character needs re-authentication",
				"credential", cred.Alias,
				"character_id", token.CharacterID,
			)
			return marked, err
		}
		return token, err
	}

	updated := token.Clone()
	updated.AccessToken = ssoToken.AccessToken
	updated.ExpiresAt = ssoToken.ExpiresAt()
	updated.UpdatedAt = time.Now().UTC()
	updated.NeedsReauth = false
	if ssoToken.TokenType != "" {
		updated.TokenType = ssoToken.TokenType
	}
	// The SSO may rotate refresh tokens; persist whatever came back.
	if ssoToken.RefreshToken != "" {
		updated.RefreshToken = ssoToken.RefreshToken
	}

	c.logger.Debug("Token refreshed",
		"credential", cred.Alias,
		"character_id", updated.CharacterID,
		"expires_at", updated.ExpiresAt,
	)

	return updated, nil
}
