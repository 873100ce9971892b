package authflow

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esiauth/internal/store"
	"esiauth/pkg/sso"
)

// fakeSSO is a complete in-process SSO: metadata, token endpoint, and JWKS.
// Exchanged access tokens are real signed JWTs so the verifier accepts them.
type fakeSSO struct {
	server    *httptest.Server
	key       jwk.Key
	exchanges atomic.Int32
	refreshes atomic.Int32

	// refreshStatus, when non-zero, makes the token endpoint fail refresh
	// grants with this HTTP status.
	refreshStatus int
	refreshError  string
}

func newFakeSSO(t *testing.T) *fakeSSO {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "JWT-Signature-Key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	f := &fakeSSO{key: key}

	mux := http.NewServeMux()
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sso.Metadata{
			Issuer:                sso.DefaultIssuer,
			AuthorizationEndpoint: f.server.URL + "/v2/oauth/authorize",
			TokenEndpoint:         f.server.URL + "/v2/oauth/token",
			JWKSURI:               f.server.URL + "/oauth/jwks",
		})
	})

	mux.HandleFunc("/oauth/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(set)
	})

	mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			f.exchanges.Add(1)
			json.NewEncoder(w).Encode(sso.Token{
				AccessToken:  f.signToken(t),
				TokenType:    "Bearer",
				RefreshToken: "initial-refresh-token",
				ExpiresIn:    1199,
			})
		case "refresh_token":
			f.refreshes.Add(1)
			if f.refreshStatus != 0 {
				w.WriteHeader(f.refreshStatus)
				if f.refreshError != "" {
					json.NewEncoder(w).Encode(map[string]string{"error": f.refreshError})
				}
				return
			}
			json.NewEncoder(w).Encode(sso.Token{
				AccessToken:  f.signToken(t),
				TokenType:    "Bearer",
				RefreshToken: "rotated-refresh-token",
				ExpiresIn:    1199,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	return f
}

func (f *fakeSSO) signToken(t *testing.T) string {
	t.Helper()

	tok, err := jwt.NewBuilder().
		Subject("CHARACTER:EVE:2117421337").
		Issuer(sso.DefaultIssuer).
		Audience([]string{sso.DefaultAudience}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(20*time.Minute)).
		Claim("name", "Test Pilot").
		Claim("owner", "owner-hash").
		Claim("scp", []string{"esi-wallet.read_character_wallet.v1"}).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.key))
	require.NoError(t, err)
	return string(signed)
}

func (f *fakeSSO) client() *sso.Client {
	return sso.NewClient(sso.WithMetadataURL(f.server.URL + "/.well-known/oauth-authorization-server"))
}

func (f *fakeSSO) verifier(t *testing.T) *sso.Verifier {
	t.Helper()
	v, err := sso.NewVerifier(context.Background(), sso.WithJWKSURI(f.server.URL+"/oauth/jwks"))
	require.NoError(t, err)
	return v
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func testFlowCredential(t *testing.T) store.CredentialSet {
	return store.CredentialSet{
		Name:        "Flow Test App",
		ClientID:    "flow-client",
		RedirectURI: fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t)),
		Alias:       "flowtest",
	}
}

// approveInBrowser returns an OpenBrowser stub that plays the user: it reads
// the state out of the authorization URL and immediately hits the callback.
func approveInBrowser(t *testing.T, code string) func(string) error {
	return func(authURL string) error {
		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		query := parsed.Query()

		callback := query.Get("redirect_uri") + "?" + url.Values{
			"code":  {code},
			"state": {query.Get("state")},
		}.Encode()

		resp, err := http.Get(callback)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestAuthenticate(t *testing.T) {
	fake := newFakeSSO(t)
	st := store.New(filepath.Join(t.TempDir(), "auth.json"), nil)

	cred := testFlowCredential(t)
	require.NoError(t, st.AddCredential(cred))

	var sawAuthURL string
	controller := NewController(Config{
		SSOClient:       fake.client(),
		Verifier:        fake.verifier(t),
		Store:           st,
		CallbackTimeout: 5 * time.Second,
		OpenBrowser:     approveInBrowser(t, "test-auth-code"),
		OnAuthURL:       func(u string) { sawAuthURL = u },
	})

	token, err := controller.Authenticate(context.Background(), cred, []string{"esi-wallet.read_character_wallet.v1"})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, controller.State())
	assert.Equal(t, int32(1), fake.exchanges.Load())
	assert.NotEmpty(t, sawAuthURL)

	assert.Equal(t, int64(2117421337), token.CharacterID)
	assert.Equal(t, "Test Pilot", token.CharacterName)
	assert.Equal(t, "initial-refresh-token", token.RefreshToken)
	assert.Equal(t, []string{"esi-wallet.read_character_wallet.v1"}, token.Scopes)
	assert.False(t, token.NeedsReauth)
	assert.True(t, token.ExpiresAt.After(time.Now().Add(15*time.Minute)))

	// The token was persisted under the credential.
	snapshot, err := st.Load()
	require.NoError(t, err)
	stored, err := snapshot.TokenFor(cred.Alias, 2117421337)
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, stored.AccessToken)
}

func TestAuthenticate_UserDenies(t *testing.T) {
	fake := newFakeSSO(t)
	st := store.New(filepath.Join(t.TempDir(), "auth.json"), nil)

	cred := testFlowCredential(t)
	require.NoError(t, st.AddCredential(cred))

	controller := NewController(Config{
		SSOClient:       fake.client(),
		Verifier:        fake.verifier(t),
		Store:           st,
		CallbackTimeout: 5 * time.Second,
		OpenBrowser: func(authURL string) error {
			parsed, err := url.Parse(authURL)
			require.NoError(t, err)
			resp, err := http.Get(parsed.Query().Get("redirect_uri") + "?error=access_denied")
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		},
	})

	_, err := controller.Authenticate(context.Background(), cred, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallbackDenied))
	assert.Equal(t, StateFailed, controller.State())
	assert.Equal(t, err, controller.LastError())

	// No exchange happened and nothing was stored.
	assert.Equal(t, int32(0), fake.exchanges.Load())
	snapshot, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, snapshot.Tokens)
}

func TestAuthenticate_StateMismatchNeverExchanges(t *testing.T) {
	fake := newFakeSSO(t)
	st := store.New(filepath.Join(t.TempDir(), "auth.json"), nil)

	cred := testFlowCredential(t)
	require.NoError(t, st.AddCredential(cred))

	controller := NewController(Config{
		SSOClient:       fake.client(),
		Verifier:        fake.verifier(t),
		Store:           st,
		CallbackTimeout: 5 * time.Second,
		OpenBrowser: func(authURL string) error {
			parsed, err := url.Parse(authURL)
			require.NoError(t, err)
			resp, err := http.Get(parsed.Query().Get("redirect_uri") + "?code=stolen-code&state=forged-state")
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		},
	})

	_, err := controller.Authenticate(context.Background(), cred, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateMismatch))

	// The forged code must never reach the token endpoint.
	assert.Equal(t, int32(0), fake.exchanges.Load())
}

func TestAuthenticate_Timeout(t *testing.T) {
	fake := newFakeSSO(t)
	st := store.New(filepath.Join(t.TempDir(), "auth.json"), nil)

	cred := testFlowCredential(t)
	require.NoError(t, st.AddCredential(cred))

	controller := NewController(Config{
		SSOClient:       fake.client(),
		Verifier:        fake.verifier(t),
		Store:           st,
		CallbackTimeout: 200 * time.Millisecond,
		OpenBrowser:     func(string) error { return nil },
	})

	_, err := controller.Authenticate(context.Background(), cred, nil)
	assert.True(t, errors.Is(err, ErrCallbackTimeout), "expected ErrCallbackTimeout, got %v", err)
	assert.Equal(t, StateFailed, controller.State())
}

func TestAuthenticate_BrowserFailureIsNonFatal(t *testing.T) {
	fake := newFakeSSO(t)
	st := store.New(filepath.Join(t.TempDir(), "auth.json"), nil)

	cred := testFlowCredential(t)
	require.NoError(t, st.AddCredential(cred))

	// The browser cannot be opened, but the user follows the surfaced URL.
	var authURL atomic.Value
	controller := NewController(Config{
		SSOClient:       fake.client(),
		Verifier:        fake.verifier(t),
		Store:           st,
		CallbackTimeout: 5 * time.Second,
		OnAuthURL:       func(u string) { authURL.Store(u) },
		OpenBrowser: func(string) error {
			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = approveInBrowser(t, "manual-code")(authURL.Load().(string))
			}()
			return errors.New("no browser available")
		},
	})

	_, err := controller.Authenticate(context.Background(), cred, nil)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, controller.State())
}

func refreshableToken(cred store.CredentialSet) store.CharacterToken {
	now := time.Now().UTC()
	return store.CharacterToken{
		OwningCredential: cred.ClientID,
		CharacterID:      2117421337,
		CharacterName:    "Test Pilot",
		AccessToken:      "stale-access",
		RefreshToken:     "stored-refresh",
		TokenType:        "Bearer",
		ExpiresAt:        now.Add(time.Minute),
		Scopes:           []string{"esi-wallet.read_character_wallet.v1"},
		CreatedAt:        now.Add(-time.Hour),
		UpdatedAt:        now.Add(-time.Hour),
	}
}

func TestRefresh(t *testing.T) {
	fake := newFakeSSO(t)
	controller := NewController(Config{SSOClient: fake.client()})

	cred := store.CredentialSet{ClientID: "flow-client", Alias: "flowtest"}
	original := refreshableToken(cred)

	updated, err := controller.Refresh(context.Background(), cred, original)
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.refreshes.Load())
	assert.NotEqual(t, "stale-access", updated.AccessToken)
	assert.Equal(t, "rotated-refresh-token", updated.RefreshToken)
	assert.True(t, updated.ExpiresAt.After(original.ExpiresAt))
	assert.False(t, updated.NeedsReauth)
	assert.True(t, updated.UpdatedAt.After(original.UpdatedAt))

	// The input token is never mutated.
	assert.Equal(t, "stale-access", original.AccessToken)
	assert.Equal(t, "stored-refresh", original.RefreshToken)
}

func TestRefresh_RejectedMarksNeedsReauth(t *testing.T) {
	fake := newFakeSSO(t)
	fake.refreshStatus = http.StatusBadRequest
	fake.refreshError = "invalid_grant"

	controller := NewController(Config{SSOClient: fake.client()})
	cred := store.CredentialSet{ClientID: "flow-client", Alias: "flowtest"}
	original := refreshableToken(cred)

	marked, err := controller.Refresh(context.Background(), cred, original)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sso.ErrRefreshRejected))

	// The token stays, marked, so the failure is visible and persistable.
	assert.True(t, marked.NeedsReauth)
	assert.Equal(t, "stored-refresh", marked.RefreshToken)
	assert.Equal(t, "stale-access", marked.AccessToken)
}

func TestRefresh_TransientFailureLeavesTokenUntouched(t *testing.T) {
	fake := newFakeSSO(t)
	fake.refreshStatus = http.StatusServiceUnavailable

	controller := NewController(Config{SSOClient: fake.client()})
	cred := store.CredentialSet{ClientID: "flow-client", Alias: "flowtest"}
	original := refreshableToken(cred)

	returned, err := controller.Refresh(context.Background(), cred, original)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sso.ErrRefreshUnavailable))

	assert.False(t, returned.NeedsReauth)
	assert.Equal(t, original.AccessToken, returned.AccessToken)
	assert.Equal(t, original.RefreshToken, returned.RefreshToken)
	assert.True(t, returned.ExpiresAt.Equal(original.ExpiresAt))
}
