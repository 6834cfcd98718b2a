package rpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TokenAuthorizer is the abstract policy a deployment plugs in to recognize
// token syntax and authorize tokens (plus cookies) into target objects.
// Implementations must be safe for concurrent use — the same authorizer is
// shared by every Context built from one ContextInfo.
type TokenAuthorizer interface {
	// NonTokenPrefix is a string guaranteed never to begin any valid token;
	// used as the prefix for freshly minted non-token ids.
	NonTokenPrefix() string

	// IsToken syntactically recognizes s as a token string.
	IsToken(s string) bool

	// TokenFromString parses s into a BearerToken. Precondition: IsToken(s).
	TokenFromString(s string) (BearerToken, error)

	// CookieNamesForToken lists which cookies t requires for validation.
	CookieNamesForToken(ctx context.Context, t BearerToken) ([]string, error)

	// GetAuthorizedTarget is the policy decision: given a token and its
	// required cookie values, return the object to expose, or nil to deny.
	GetAuthorizedTarget(ctx context.Context, t BearerToken, cookies map[string]string) (any, error)
}

// TokenMint is an optional in-memory token issuer for simple deployments.
// It implements TokenAuthorizer directly: minted tokens map to a fixed
// object with no required cookies, and the mint is the sole source of truth
// (no persistence — restart invalidates every minted token).
type TokenMint struct {
	prefix string

	mu     sync.RWMutex
	tokens map[string]mintedToken // id -> token+object
}

type mintedToken struct {
	token  BearerToken
	object any
}

// NewTokenMint creates a mint whose tokens are recognized by the given
// prefix (e.g. "tok-"), distinct from NonTokenPrefix so minted ids and
// freshly generated non-token ids never collide.
func NewTokenMint(prefix string) *TokenMint {
	return &TokenMint{prefix: prefix, tokens: make(map[string]mintedToken)}
}

// Mint issues a fresh token bound to obj and returns it (see
// BearerToken.FullString for the wire form); only the caller is expected to
// retain it. The public id is a uuid (readable in logs via
// BearerToken.SafeString, unlike the secret); the secret itself still comes
// from crypto/rand since it must resist guessing.
func (m *TokenMint) Mint(obj any) (BearerToken, error) {
	id := uuid.New().String()
	secret, err := randomHex(24)
	if err != nil {
		return BearerToken{}, err
	}

	t := BearerToken{ID: m.prefix + id, Secret: secret}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.ID] = mintedToken{token: t, object: obj}

	return t, nil
}

// Revoke removes a minted token; subsequent authorization attempts fail.
func (m *TokenMint) Revoke(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
}

func (m *TokenMint) NonTokenPrefix() string {
	return "local-"
}

func (m *TokenMint) IsToken(s string) bool {
	return len(s) > len(m.prefix) && s[:len(m.prefix)] == m.prefix
}

func (m *TokenMint) TokenFromString(s string) (BearerToken, error) {
	if !m.IsToken(s) {
		return BearerToken{}, fmt.Errorf("not a token: %s", s)
	}
	rest := s[len(m.prefix):]
	// id:secret — ':' is the separator since id (a uuid) already contains
	// hyphens and can't double as one.
	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		return BearerToken{}, fmt.Errorf("malformed token")
	}
	return BearerToken{ID: m.prefix + rest[:idx], Secret: rest[idx+1:]}, nil
}

func (m *TokenMint) CookieNamesForToken(ctx context.Context, t BearerToken) ([]string, error) {
	return nil, nil
}

func (m *TokenMint) GetAuthorizedTarget(ctx context.Context, t BearerToken, cookies map[string]string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.tokens[t.ID]
	if !ok || !entry.token.SameToken(t) {
		return nil, nil
	}
	return entry.object, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
