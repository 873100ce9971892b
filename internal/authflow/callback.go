package authflow

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"esiauth/pkg/sso"
)

// DefaultCallbackTimeout is how long the flow waits for the user to finish
// in the browser.
const DefaultCallbackTimeout = 5 * time.Minute

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

// callbackResult is what one provider redirect carried.
type callbackResult struct {
	code           string
	state          string
	errCode        string
	errDescription string
}

// CallbackReceiver is a transient local HTTP listener bound to a
// credential's registered redirect host/port/path. It accepts exactly one
// callback, replies to the browser with a static confirmation page, and
// stops listening.
type CallbackReceiver struct {
	host string
	port int
	path string

	expectedState string

	server   *http.Server
	listener net.Listener
	resultCh chan *callbackResult
	errorCh  chan error
	once     sync.Once
}

// NewCallbackReceiver creates a receiver for the given redirect URI and the
// state generated for this attempt.
func NewCallbackReceiver(redirectURI, expectedState string) (*CallbackReceiver, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}

	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 8080
	if parsed.Port() != "" {
		fmt.Sscanf(parsed.Port(), "%d", &port)
	}
	path := parsed.Path
	if path == "" {
		path = "/callback"
	}

	return &CallbackReceiver{
		host:          host,
		port:          port,
		path:          path,
		expectedState: expectedState,
		resultCh:      make(chan *callbackResult, 1),
		errorCh:       make(chan error, 1),
	}, nil
}

// Start binds the listener. An occupied port surfaces as ErrPortInUse and
// is not retried.
func (r *CallbackReceiver) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.host, r.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrPortInUse, addr)
		}
		return fmt.Errorf("failed to start callback listener on %s: %w", addr, err)
	}
	r.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(r.path, r.handleCallback)

	r.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case r.errorCh <- err:
			default:
			}
		}
	}()

	// Tear the listener down if the surrounding flow is cancelled.
	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// Wait suspends until the single callback arrives or the timeout elapses.
// On success it returns the authorization code. The state parameter is
// checked here, before the code is ever handed to the exchange step.
func (r *CallbackReceiver) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-r.resultCh:
		return r.evaluate(result)
	case err := <-r.errorCh:
		return "", fmt.Errorf("callback listener failed: %w", err)
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrCallbackTimeout
	}
}

// evaluate classifies the single received callback.
func (r *CallbackReceiver) evaluate(result *callbackResult) (string, error) {
	if result.errCode != "" {
		if result.errDescription != "" {
			return "", fmt.Errorf("%w: %s - %s", ErrCallbackDenied, result.errCode, result.errDescription)
		}
		return "", fmt.Errorf("%w: %s", ErrCallbackDenied, result.errCode)
	}

	if !sso.VerifyState(r.expectedState, result.state) {
		return "", ErrStateMismatch
	}

	if result.code == "" {
		return "", fmt.Errorf("%w: no authorization code in callback", ErrCallbackDenied)
	}

	return result.code, nil
}

// handleCallback handles the provider redirect. Only the first request is
// processed; later ones are rejected and do not re-trigger the flow.
func (r *CallbackReceiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	var handled bool
	r.once.Do(func() {
		handled = true
		r.processCallback(w, req)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

// processCallback runs exactly once via sync.Once.
func (r *CallbackReceiver) processCallback(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := req.URL.Query()
	result := &callbackResult{
		code:           query.Get("code"),
		state:          query.Get("state"),
		errCode:        query.Get("error"),
		errDescription: query.Get("error_description"),
	}

	var tmpl *template.Template
	var data interface{}
	if result.errCode != "" {
		tmpl = template.Must(template.New("error").Parse(callbackErrorHTML))
		data = map[string]string{
			"Error":       result.errCode,
			"Description": result.errDescription,
		}
	} else {
		tmpl = template.Must(template.New("success").Parse(callbackSuccessHTML))
		data = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	select {
	case r.resultCh <- result:
	default:
	}

	// Give the response time to flush before shutting down.
	go func() {
		time.Sleep(1 * time.Second)
		r.Stop()
	}()
}

// Stop shuts the listener down.
func (r *CallbackReceiver) Stop() {
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.server.Shutdown(ctx)
	}
	if r.listener != nil {
		_ = r.listener.Close()
	}
}

// Addr returns the address the receiver is bound to.
func (r *CallbackReceiver) Addr() string {
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", r.host, r.port)
}
