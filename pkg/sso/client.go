package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for SSO requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataTTL is how long discovered endpoint metadata is cached.
	DefaultMetadataTTL = 1 * time.Hour
)

// metadataEntry holds cached metadata with its fetch timestamp.
type metadataEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client performs the SSO protocol operations: metadata discovery,
// authorization-code exchange, and token refresh.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	metadataURL string

	metadataMu    sync.RWMutex
	metadata      *metadataEntry
	metadataTTL   time.Duration
	metadataGroup singleflight.Group
}

// ClientOption configures the SSO client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header sent on every request. CCP asks
// third-party applications to identify themselves.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithMetadataURL overrides the well-known metadata URL (used in tests and
// against mock providers).
func WithMetadataURL(metadataURL string) ClientOption {
	return func(c *Client) {
		c.metadataURL = metadataURL
	}
}

// WithMetadataTTL sets the metadata cache TTL.
func WithMetadataTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// NewClient creates a new SSO client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultHTTPTimeout},
		logger:      slog.Default(),
		metadataURL: DefaultMetadataURL,
		metadataTTL: DefaultMetadataTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DiscoverMetadata fetches the authorization-server metadata from the
// well-known endpoint, caching the result. Concurrent callers share a single
// fetch. If discovery fails and no cached copy exists, the compiled-in
// defaults are returned so authentication still works offline-ish.
func (c *Client) DiscoverMetadata(ctx context.Context) (*Metadata, error) {
	c.metadataMu.RLock()
	if entry := c.metadata; entry != nil && time.Since(entry.fetchedAt) < c.metadataTTL {
		c.metadataMu.RUnlock()
		return entry.metadata, nil
	}
	c.metadataMu.RUnlock()

	result, err, _ := c.metadataGroup.Do(c.metadataURL, func() (interface{}, error) {
		return c.fetchMetadata(ctx)
	})
	if err != nil {
		c.logger.Debug("SSO metadata discovery failed, using defaults",
			"metadata_url", c.metadataURL,
			"error", err.Error(),
		)
		return DefaultMetadata(), nil
	}

	metadata := result.(*Metadata)

	c.metadataMu.Lock()
	c.metadata = &metadataEntry{metadata: metadata, fetchedAt: time.Now()}
	c.metadataMu.Unlock()

	return metadata, nil
}

func (c *Client) fetchMetadata(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode}
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata from %s is missing required endpoints", c.metadataURL)
	}

	c.logger.Debug("Discovered SSO metadata",
		"issuer", metadata.Issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint,
	)

	return &metadata, nil
}

// AuthorizationRequest holds everything needed to build one authorization URL.
type AuthorizationRequest struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	State       string
	PKCE        *PKCEChallenge
}

// BuildAuthorizationURL constructs the browser-facing authorization URL.
func (c *Client) BuildAuthorizationURL(metadata *Metadata, req AuthorizationRequest) (string, error) {
	authURL, err := url.Parse(metadata.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", req.ClientID)
	query.Set("redirect_uri", req.RedirectURI)
	query.Set("state", req.State)

	if len(req.Scopes) > 0 {
		query.Set("scope", JoinScopes(req.Scopes))
	}

	if req.PKCE != nil {
		query.Set("code_challenge", req.PKCE.CodeChallenge)
		query.Set("code_challenge_method", req.PKCE.CodeChallengeMethod)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// ExchangeCode exchanges an authorization code for tokens. The code verifier
// is transmitted here for the first time, proving this process started the
// attempt.
func (c *Client) ExchangeCode(ctx context.Context, metadata *Metadata, clientID, clientSecret, code, redirectURI, codeVerifier string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	}

	return c.doTokenRequest(ctx, metadata.TokenEndpoint, clientID, clientSecret, data)
}

// RefreshToken obtains a new access token using a refresh token. Failures
// are classified: ErrRefreshRejected for dead refresh tokens,
// ErrRefreshUnavailable for transient network/server trouble.
func (c *Client) RefreshToken(ctx context.Context, metadata *Metadata, clientID, clientSecret, refreshToken string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	token, err := c.doTokenRequest(ctx, metadata.TokenEndpoint, clientID, clientSecret, data)
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	return token, nil
}

// doTokenRequest performs a token endpoint request. Confidential clients
// authenticate with HTTP Basic auth; public PKCE clients send client_id in
// the form body.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint, clientID, clientSecret string, data url.Values) (*Token, error) {
	if clientSecret == "" {
		data.Set("client_id", clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	c.setCommonHeaders(req)

	if clientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	receivedAt := time.Now()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		pe := &ProviderError{StatusCode: resp.StatusCode}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			pe.Code = oauthErr.Error
			pe.Description = oauthErr.ErrorDescription
		}
		c.logger.Debug("Token request failed",
			"status", resp.StatusCode,
			"oauth_error", pe.Code,
		)
		return nil, pe
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	token.ReceivedAt = receivedAt

	return &token, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// ClearMetadataCache drops the cached metadata so the next discovery
// refetches immediately.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadata = nil
	c.metadataMu.Unlock()
}
