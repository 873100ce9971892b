package token

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"esiauth/internal/store"
)

// tokenSource adapts one managed character token to oauth2.TokenSource.
// Every Token() call goes through the manager, so the refresh-on-read
// guarantees apply: the returned token is always outside the refresh buffer
// or the call fails.
type tokenSource struct {
	ctx         context.Context
	manager     *Manager
	ref         string
	characterID int64
	buffer      time.Duration
}

// TokenSource returns an oauth2.TokenSource for one character under the
// referenced credential. Embedding applications can hand it to
// oauth2.NewClient to get an HTTP client that always sends a current access
// token.
func (m *Manager) TokenSource(ctx context.Context, ref string, characterID int64, buffer time.Duration) oauth2.TokenSource {
	return &tokenSource{
		ctx:         ctx,
		manager:     m,
		ref:         ref,
		characterID: characterID,
		buffer:      buffer,
	}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tokens, refreshErrs, err := s.manager.AuthorizedCharacters(s.ctx, s.ref, s.buffer)
	if err != nil {
		return nil, err
	}
	if refreshErr, failed := refreshErrs[s.characterID]; failed {
		return nil, refreshErr
	}

	tok, ok := tokens[s.characterID]
	if !ok {
		return nil, fmt.Errorf("character %d under credential %q: %w", s.characterID, s.ref, store.ErrNotFound)
	}
	return tok.OAuth2Token(), nil
}
