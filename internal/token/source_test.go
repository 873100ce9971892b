package token

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esiauth/internal/store"
	"esiauth/pkg/sso"
)

func TestTokenSource(t *testing.T) {
	manager, st, flow := managerFixture(t)
	seedToken(t, st, 1001, 2*time.Minute)

	source := manager.TokenSource(context.Background(), "main", 1001, 5*time.Minute)

	tok, err := source.Token()
	require.NoError(t, err)

	// The stale token was refreshed on the way out.
	assert.Equal(t, 1, flow.calls(1001))
	assert.Equal(t, "refreshed-access-1001", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Valid())
}

func TestTokenSource_RefreshFailure(t *testing.T) {
	manager, st, flow := managerFixture(t)
	seedToken(t, st, 1001, time.Minute)
	flow.refreshErr[1001] = fmt.Errorf("%w: invalid_grant", sso.ErrRefreshRejected)

	source := manager.TokenSource(context.Background(), "main", 1001, 5*time.Minute)

	_, err := source.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, sso.ErrRefreshRejected))
}

func TestTokenSource_UnknownCharacter(t *testing.T) {
	manager, _, _ := managerFixture(t)

	source := manager.TokenSource(context.Background(), "main", 9999, 5*time.Minute)

	_, err := source.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
