// Package memory is the zero-dependency TokenAuthorizer backend: sessions
// live only in process memory, so a restart invalidates every token. Useful
// for development and single-process deployments that don't need sessions
// to survive a restart.
package memory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rakunlabs/quillcore/pkg/rpc"
	"github.com/rakunlabs/quillcore/pkg/sessionauth"
)

// WorkspaceResolver turns the workspace id bound to a session into the
// object GetAuthorizedTarget hands back to pkg/rpc.
type WorkspaceResolver func(ctx context.Context, workspaceID string) (any, error)

type entry struct {
	record sessionauth.Record
	secret string // plaintext only while held in memory; never persisted this way by the other backends
}

// Store is an in-memory TokenAuthorizer.
type Store struct {
	prefix   string
	resolve  WorkspaceResolver
	mu       sync.RWMutex
	sessions map[string]entry // token id -> entry
}

// New creates a memory store whose tokens are recognized by prefix.
func New(prefix string, resolve WorkspaceResolver) *Store {
	return &Store{prefix: prefix, resolve: resolve, sessions: make(map[string]entry)}
}

// Mint creates a new session bound to workspaceID and returns the bearer
// token. The cookies it binds to are whichever arrive with the first
// GetAuthorizedTarget call, same as the SQL-backed stores.
func (s *Store) Mint(ctx context.Context, workspaceID string) (rpc.BearerToken, error) {
	secret, err := randomHex(24)
	if err != nil {
		return rpc.BearerToken{}, err
	}

	t := rpc.BearerToken{ID: s.prefix + uuid.New().String(), Secret: secret}
	now := time.Now()

	s.mu.Lock()
	s.sessions[t.ID] = entry{
		secret: secret,
		record: sessionauth.Record{
			ID:          t.ID,
			TokenHash:   hashSecret(secret),
			WorkspaceID: workspaceID,
			CreatedAt:   now,
			LastUsedAt:  now,
		},
	}
	s.mu.Unlock()

	return t, nil
}

func (s *Store) NonTokenPrefix() string { return "local-" }

func (s *Store) IsToken(id string) bool {
	return len(id) > len(s.prefix) && id[:len(s.prefix)] == s.prefix
}

func (s *Store) TokenFromString(str string) (rpc.BearerToken, error) {
	if !s.IsToken(str) {
		return rpc.BearerToken{}, fmt.Errorf("not a token: %s", str)
	}
	for i := len(s.prefix); i < len(str); i++ {
		if str[i] == ':' {
			return rpc.BearerToken{ID: str[:i], Secret: str[i+1:]}, nil
		}
	}
	return rpc.BearerToken{}, fmt.Errorf("malformed token")
}

func (s *Store) CookieNamesForToken(ctx context.Context, t rpc.BearerToken) ([]string, error) {
	s.mu.RLock()
	e, ok := s.sessions[t.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(e.record.BoundCookies))
	for name := range e.record.BoundCookies {
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) GetAuthorizedTarget(ctx context.Context, t rpc.BearerToken, cookies map[string]string) (any, error) {
	s.mu.Lock()
	e, ok := s.sessions[t.ID]
	if !ok || hashSecret(t.Secret) != e.record.TokenHash {
		s.mu.Unlock()
		return nil, nil
	}

	if len(e.record.BoundCookies) == 0 && len(cookies) > 0 {
		// First authorization that carries cookies: bind them.
		bound := make(map[string]string, len(cookies))
		for k, v := range cookies {
			bound[k] = v
		}
		e.record.BoundCookies = bound
	}
	e.record.LastUsedAt = time.Now()
	s.sessions[t.ID] = e
	workspaceID := e.record.WorkspaceID
	s.mu.Unlock()

	return s.resolve(ctx, workspaceID)
}

// Revoke deletes a session; subsequent authorizations fail.
func (s *Store) Revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
