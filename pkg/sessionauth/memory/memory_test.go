package memory

import (
	"context"
	"testing"

	"github.com/rakunlabs/quillcore/pkg/rpc"
)

func resolver(workspaces map[string]any) WorkspaceResolver {
	return func(ctx context.Context, workspaceID string) (any, error) {
		return workspaces[workspaceID], nil
	}
}

func TestMintAndAuthorize(t *testing.T) {
	ws := "workspace-1"
	store := New("tok-", resolver(map[string]any{ws: "the-workspace-object"}))

	token, err := store.Mint(context.Background(), ws)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !store.IsToken(token.ID) {
		t.Fatalf("minted id %q not recognized as a token", token.ID)
	}

	target, err := store.GetAuthorizedTarget(context.Background(), token, map[string]string{"session_id": "abc"})
	if err != nil {
		t.Fatalf("GetAuthorizedTarget: %v", err)
	}
	if target != "the-workspace-object" {
		t.Fatalf("got target %v, want the-workspace-object", target)
	}
}

func TestAuthorizeWrongSecretDenied(t *testing.T) {
	ws := "workspace-1"
	store := New("tok-", resolver(map[string]any{ws: "obj"}))

	token, err := store.Mint(context.Background(), ws)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	bad := rpc.BearerToken{ID: token.ID, Secret: token.Secret + "x"}
	target, err := store.GetAuthorizedTarget(context.Background(), bad, nil)
	if err != nil {
		t.Fatalf("GetAuthorizedTarget: %v", err)
	}
	if target != nil {
		t.Fatalf("expected nil target for wrong secret, got %v", target)
	}
}

func TestCookiesBoundOnFirstAuthorization(t *testing.T) {
	ws := "workspace-1"
	store := New("tok-", resolver(map[string]any{ws: "obj"}))
	token, _ := store.Mint(context.Background(), ws)

	if _, err := store.GetAuthorizedTarget(context.Background(), token, map[string]string{"csrf": "v1"}); err != nil {
		t.Fatalf("first authorize: %v", err)
	}

	// A later call with different cookies does not rebind — the stored
	// names are what CookieNamesForToken reports, fixed at first use.
	if _, err := store.GetAuthorizedTarget(context.Background(), token, map[string]string{"other": "v2"}); err != nil {
		t.Fatalf("second authorize: %v", err)
	}

	names, err := store.CookieNamesForToken(context.Background(), token)
	if err != nil {
		t.Fatalf("CookieNamesForToken: %v", err)
	}
	if len(names) != 1 || names[0] != "csrf" {
		t.Fatalf("got cookie names %v, want [csrf]", names)
	}
}

func TestRevoke(t *testing.T) {
	ws := "workspace-1"
	store := New("tok-", resolver(map[string]any{ws: "obj"}))
	token, _ := store.Mint(context.Background(), ws)

	store.Revoke(token.ID)

	target, err := store.GetAuthorizedTarget(context.Background(), token, nil)
	if err != nil {
		t.Fatalf("GetAuthorizedTarget after revoke: %v", err)
	}
	if target != nil {
		t.Fatalf("expected nil target after revoke, got %v", target)
	}
}

func TestTokenFromStringRoundTrip(t *testing.T) {
	ws := "workspace-1"
	store := New("tok-", resolver(map[string]any{ws: "obj"}))
	token, _ := store.Mint(context.Background(), ws)

	parsed, err := store.TokenFromString(token.FullString())
	if err != nil {
		t.Fatalf("TokenFromString: %v", err)
	}
	if !parsed.SameToken(token) {
		t.Fatalf("parsed token %+v does not match minted %+v", parsed, token)
	}
}

func TestTokenFromStringRejectsNonToken(t *testing.T) {
	store := New("tok-", resolver(nil))
	if _, err := store.TokenFromString("local-abc123"); err == nil {
		t.Fatal("expected error for non-token string")
	}
}
