package authflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallbackReceiver_ParsesRedirectURI(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		wantHost    string
		wantPort    int
		wantPath    string
	}{
		{"explicit everything", "http://localhost:8123/sso/callback", "localhost", 8123, "/sso/callback"},
		{"default port", "http://localhost/callback", "localhost", 8080, "/callback"},
		{"default path", "http://127.0.0.1:9000", "127.0.0.1", 9000, "/callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCallbackReceiver(tt.redirectURI, "state")
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, r.host)
			assert.Equal(t, tt.wantPort, r.port)
			assert.Equal(t, tt.wantPath, r.path)
		})
	}
}

// startReceiver binds a receiver on an ephemeral port and returns it with
// its callback URL.
func startReceiver(t *testing.T, expectedState string) (*CallbackReceiver, string) {
	t.Helper()

	r, err := NewCallbackReceiver("http://127.0.0.1:0/callback", expectedState)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	return r, fmt.Sprintf("http://%s/callback", r.Addr())
}

func TestCallbackReceiver_Success(t *testing.T) {
	r, callbackURL := startReceiver(t, "expected-state")

	resp, err := http.Get(callbackURL + "?code=auth-code-123&state=expected-state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "close this")

	code, err := r.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "auth-code-123", code)
}

func TestCallbackReceiver_SecondRequestRejected(t *testing.T) {
	r, callbackURL := startReceiver(t, "expected-state")

	first, err := http.Get(callbackURL + "?code=first-code&state=expected-state")
	require.NoError(t, err)
	first.Body.Close()

	second, err := http.Get(callbackURL + "?code=second-code&state=expected-state")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)

	// Only the first callback made it through.
	code, err := r.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first-code", code)
}

func TestCallbackReceiver_StateMismatch(t *testing.T) {
	r, callbackURL := startReceiver(t, "expected-state")

	resp, err := http.Get(callbackURL + "?code=auth-code&state=attacker-state")
	require.NoError(t, err)
	resp.Body.Close()

	_, err = r.Wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrStateMismatch), "expected ErrStateMismatch, got %v", err)
}

func TestCallbackReceiver_MissingStateRejected(t *testing.T) {
	r, callbackURL := startReceiver(t, "expected-state")

	resp, err := http.Get(callbackURL + "?code=auth-code")
	require.NoError(t, err)
	resp.Body.Close()

	_, err = r.Wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrStateMismatch))
}

func TestCallbackReceiver_ProviderDenial(t *testing.T) {
	r, callbackURL := startReceiver(t, "expected-state")

	params := url.Values{
		"error":             {"access_denied"},
		"error_description": {"The user denied the request"},
		"state":             {"expected-state"},
	}
	resp, err := http.Get(callbackURL + "?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "access_denied")

	_, err = r.Wait(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallbackDenied), "expected ErrCallbackDenied, got %v", err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestCallbackReceiver_EmptyCodeRejected(t *testing.T) {
	r, callbackURL := startReceiver(t, "expected-state")

	resp, err := http.Get(callbackURL + "?state=expected-state")
	require.NoError(t, err)
	resp.Body.Close()

	_, err = r.Wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrCallbackDenied))
}

func TestCallbackReceiver_Timeout(t *testing.T) {
	r, _ := startReceiver(t, "expected-state")

	start := time.Now()
	_, err := r.Wait(context.Background(), 100*time.Millisecond)
	assert.True(t, errors.Is(err, ErrCallbackTimeout), "expected ErrCallbackTimeout, got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCallbackReceiver_ContextCancellation(t *testing.T) {
	r, _ := startReceiver(t, "expected-state")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Wait(ctx, time.Minute)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCallbackReceiver_PortInUse(t *testing.T) {
	// Occupy a port, then point a receiver at it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	r, err := NewCallbackReceiver(fmt.Sprintf("http://127.0.0.1:%d/callback", port), "state")
	require.NoError(t, err)

	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortInUse), "expected ErrPortInUse, got %v", err)
}
