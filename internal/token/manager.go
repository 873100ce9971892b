// Package token provides the caller-facing facade: given a credential
// alias or client id, return a current, non-expired set of character
// tokens, refreshing whatever is due.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"esiauth/internal/store"
	"esiauth/pkg/sso"
)

// DefaultRefreshConcurrency bounds how many refresh grants run at once in
// one batch. Refreshes for distinct characters are independent, so running
// them concurrently is purely an optimization.
const DefaultRefreshConcurrency = 4

// FlowRunner is the slice of the flow controller the manager needs.
type FlowRunner interface {
	// Authenticate runs one interactive PKCE attempt and stores the result.
	Authenticate(ctx context.Context, cred store.CredentialSet, scopes []string) (store.CharacterToken, error)

	// Refresh exchanges a refresh token for a new access token without
	// persisting; the manager batches persistence.
	Refresh(ctx context.Context, cred store.CredentialSet, token store.CharacterToken) (store.CharacterToken, error)
}

// Manager is the TokenManager facade.
type Manager struct {
	store       *store.Store
	flow        FlowRunner
	logger      *slog.Logger
	concurrency int
}

// Config configures a Manager.
type Config struct {
	// Store is the auth store. Required.
	Store *store.Store

	// Flow runs authentication and refresh attempts. Required.
	Flow FlowRunner

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// RefreshConcurrency bounds parallel refreshes per batch. Defaults to
	// DefaultRefreshConcurrency.
	RefreshConcurrency int
}

// NewManager creates a token manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.RefreshConcurrency
	if concurrency <= 0 {
		concurrency = DefaultRefreshConcurrency
	}

	return &Manager{
		store:       cfg.Store,
		flow:        cfg.Flow,
		logger:      logger,
		concurrency: concurrency,
	}
}

// AuthorizedCharacters returns a current token for every character
// authorized under the referenced credential, refreshing any that are
// expired or within buffer of expiry.
//
// Refresh attempts are independent: one character's failure never aborts
// the others. Failures come back in the error map keyed by character id,
// never as a single aggregate error, so callers can use the characters
// that did refresh. The returned tokens are independent copies; mutating
// them does not touch the store.
func (m *Manager) AuthorizedCharacters(ctx context.Context, ref string, buffer time.Duration) (map[int64]store.CharacterToken, map[int64]error, error) {
	if buffer <= 0 {
		buffer = store.DefaultRefreshBuffer
	}

	// The load-modify-save sequence is serialized against other in-process
	// mutators. The snapshot refreshed against is the one loaded here, never
	// a stale in-memory copy from an earlier call.
	m.store.Lock()
	defer m.store.Unlock()

	snapshot, err := m.store.Load()
	if err != nil {
		return nil, nil, err
	}

	cred, err := snapshot.FindCredential(ref)
	if err != nil {
		return nil, nil, err
	}
	credCopy := cred.Clone()

	// Indexes of tokens due for refresh, addressed into the snapshot.
	var due []int
	for i := range snapshot.Tokens {
		t := &snapshot.Tokens[i]
		if t.OwningCredential == credCopy.ClientID && t.NeedsRefresh(buffer) {
			due = append(due, i)
		}
	}

	refreshErrs := make(map[int64]error)
	dirty := false

	if len(due) > 0 {
		type outcome struct {
			index   int
			token   store.CharacterToken
			changed bool
			err     error
		}

		outcomes := make([]outcome, len(due))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.concurrency)
		for slot, index := range due {
			slot, index := slot, index
			tok := snapshot.Tokens[index].Clone()
			g.Go(func() error {
				result, err := m.refreshOne(gctx, credCopy, tok)
				outcomes[slot] = outcome{
					index:   index,
					token:   result,
					changed: err == nil || result.NeedsReauth != tok.NeedsReauth,
					err:     err,
				}
				// Individual failures are reported per character, never
				// propagated as a group failure.
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			if o.err != nil {
				refreshErrs[o.token.CharacterID] = o.err
			}
			if o.changed {
				snapshot.Tokens[o.index] = o.token
				dirty = true
			}
		}
	}

	// One batched save for the whole refresh pass.
	if dirty {
		if err := m.store.Save(snapshot); err != nil {
			return nil, nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}
	}

	result := make(map[int64]store.CharacterToken)
	for i := range snapshot.Tokens {
		if snapshot.Tokens[i].OwningCredential == credCopy.ClientID {
			result[snapshot.Tokens[i].CharacterID] = snapshot.Tokens[i].Clone()
		}
	}

	if len(refreshErrs) > 0 {
		m.logger.Warn("Some character tokens failed to refresh",
			"credential", credCopy.Alias,
			"failed", len(refreshErrs),
			"total", len(result),
		)
	}

	return result, refreshErrs, nil
}

// refreshOne refreshes a single token. A token already marked as needing
// re-authentication is not retried against the SSO: its refresh token is
// known dead.
func (m *Manager) refreshOne(ctx context.Context, cred store.CredentialSet, tok store.CharacterToken) (store.CharacterToken, error) {
	if tok.NeedsReauth {
		return tok, fmt.Errorf("character %d: %w", tok.CharacterID, sso.ErrRefreshRejected)
	}
	return m.flow.Refresh(ctx, cred, tok)
}

// Authenticate runs an interactive PKCE authentication for the referenced
// credential. Scopes defaults to the credential's stored default scopes.
func (m *Manager) Authenticate(ctx context.Context, ref string, scopes []string) (store.CharacterToken, error) {
	m.store.Lock()
	snapshot, err := m.store.Load()
	if err != nil {
		m.store.Unlock()
		return store.CharacterToken{}, err
	}
	cred, err := snapshot.FindCredential(ref)
	if err != nil {
		m.store.Unlock()
		return store.CharacterToken{}, err
	}
	credCopy := cred.Clone()
	// The interactive flow blocks on the browser; it must not hold the
	// store lock. The flow persists its own result.
	m.store.Unlock()

	if len(scopes) == 0 {
		scopes = credCopy.Scopes
	}

	return m.flow.Authenticate(ctx, credCopy, scopes)
}

// RemoveCharacter removes one character's token under the referenced
// credential.
func (m *Manager) RemoveCharacter(ref string, characterID int64) error {
	return m.store.RemoveCharacter(ref, characterID)
}
