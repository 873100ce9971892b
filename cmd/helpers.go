package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"esiauth/internal/authflow"
	"esiauth/internal/config"
	"esiauth/internal/store"
	"esiauth/internal/token"
	"esiauth/pkg/sso"
)

// app bundles the wired-up collaborators a command needs.
type app struct {
	cfg     config.Config
	store   *store.Store
	manager *token.Manager
}

// loadAppConfig resolves the config directory and loads configuration.
func loadAppConfig() (config.Config, error) {
	configDir := flagConfigDir
	if configDir == "" {
		var err error
		configDir, err = config.DefaultConfigDir()
		if err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(configDir)
}

// newStore creates the auth store from configuration.
func newStore(cfg config.Config) *store.Store {
	return store.New(cfg.StorePath, slog.Default())
}

// buildApp wires the full stack: SSO client, JWT verifier, flow controller,
// and token manager. The context bounds the verifier's JWKS cache refresh.
// onAuthURL, when non-nil, receives the authorization URL during login.
func buildApp(ctx context.Context, onAuthURL func(string)) (*app, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	authStore := newStore(cfg)

	ssoOpts := []sso.ClientOption{
		sso.WithUserAgent(cfg.UserAgent.Header()),
	}
	if cfg.SSO.MetadataURL != "" {
		ssoOpts = append(ssoOpts, sso.WithMetadataURL(cfg.SSO.MetadataURL))
	}
	ssoClient := sso.NewClient(ssoOpts...)

	verifierOpts := []sso.VerifierOption{}
	if cfg.SSO.JWKSURI != "" {
		verifierOpts = append(verifierOpts, sso.WithJWKSURI(cfg.SSO.JWKSURI))
	}
	if cfg.SSO.Audience != "" {
		verifierOpts = append(verifierOpts, sso.WithAudience(cfg.SSO.Audience))
	}
	verifier, err := sso.NewVerifier(ctx, verifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	controller := authflow.NewController(authflow.Config{
		SSOClient:       ssoClient,
		Verifier:        verifier,
		Store:           authStore,
		CallbackTimeout: time.Duration(cfg.CallbackTimeoutSeconds) * time.Second,
		OnAuthURL:       onAuthURL,
	})

	manager := token.NewManager(token.Config{
		Store: authStore,
		Flow:  controller,
	})

	return &app{
		cfg:     cfg,
		store:   authStore,
		manager: manager,
	}, nil
}

// refreshBuffer returns the configured refresh-on-read buffer.
func (a *app) refreshBuffer() time.Duration {
	if a.cfg.RefreshBufferMinutes <= 0 {
		return store.DefaultRefreshBuffer
	}
	return time.Duration(a.cfg.RefreshBufferMinutes) * time.Minute
}
