package litesession

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/quillcore/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.SessionSQLite{Datasource: filepath.Join(t.TempDir(), "sessions.db")}
	store, err := New(context.Background(), cfg, "sess-", nil, func(ctx context.Context, workspaceID string) (any, error) {
		return "workspace:" + workspaceID, nil
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestMintPersistsSessionAuthorizableAfterward(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, store.IsToken(tok.FullString()))

	obj, err := store.GetAuthorizedTarget(ctx, tok, map[string]string{"session": "abc"})
	require.NoError(t, err)
	require.Equal(t, "workspace:ws-1", obj)
}

func TestGetAuthorizedTargetRejectsWrongSecret(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "ws-1")
	require.NoError(t, err)

	tampered := tok
	tampered.Secret = "wrong"
	obj, err := store.GetAuthorizedTarget(ctx, tampered, nil)
	require.NoError(t, err)
	require.Nil(t, obj)
}

func TestCookiesBoundOnFirstAuthorizationOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "ws-1")
	require.NoError(t, err)

	_, err = store.GetAuthorizedTarget(ctx, tok, map[string]string{"session": "first"})
	require.NoError(t, err)

	names, err := store.CookieNamesForToken(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, []string{"session"}, names)

	// A second authorization with a different cookie set must not rebind —
	// the names recorded at first use are sticky.
	_, err = store.GetAuthorizedTarget(ctx, tok, map[string]string{"other": "second"})
	require.NoError(t, err)

	names, err = store.CookieNamesForToken(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, []string{"session"}, names)
}

func TestRevokeDeniesFutureAuthorization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "ws-1")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, tok.ID))

	obj, err := store.GetAuthorizedTarget(ctx, tok, nil)
	require.NoError(t, err)
	require.Nil(t, obj)
}
