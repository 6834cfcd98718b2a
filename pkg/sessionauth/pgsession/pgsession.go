// Package pgsession is the Postgres-backed TokenAuthorizer: sessions survive
// process restarts and are shared across a fleet of stateless server
// instances pointed at the same database.
package pgsession

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rakunlabs/quillcore/internal/config"
	quillcrypto "github.com/rakunlabs/quillcore/internal/crypto"
	"github.com/rakunlabs/quillcore/pkg/rpc"
	"github.com/rakunlabs/quillcore/pkg/sessionauth"
)

var DefaultTablePrefix = "quillcore_"

// WorkspaceResolver turns the workspace id bound to a session into the
// object GetAuthorizedTarget hands back to pkg/rpc.
type WorkspaceResolver func(ctx context.Context, workspaceID string) (any, error)

type Store struct {
	db    *sql.DB
	table string // sessions table, fully qualified with prefix

	prefix  string
	resolve WorkspaceResolver
	encKey  []byte // nil disables at-rest encryption of bound cookies
}

func New(ctx context.Context, cfg *config.SessionPostgres, prefix string, encKey []byte, resolve WorkspaceResolver) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("postgres session configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("postgres session datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	if cfg.ConnMaxLifetime != nil {
		db.SetConnMaxLifetime(*cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(15 * time.Minute)
	}
	if cfg.MaxIdleConns != nil {
		db.SetMaxIdleConns(*cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(3)
	}
	if cfg.MaxOpenConns != nil {
		db.SetMaxOpenConns(*cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(3)
	}

	if err := migrateDB(ctx, db, tablePrefix+"migrations", tablePrefix); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}

	slog.Info("connected to session store postgres")

	return &Store{db: db, table: tablePrefix + "sessions", prefix: prefix, resolve: resolve, encKey: encKey}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close session store postgres connection", "error", err)
		}
	}
}

// Mint creates a new session bound to workspaceID and returns its token.
func (s *Store) Mint(ctx context.Context, workspaceID string) (rpc.BearerToken, error) {
	secret, err := randomHex(24)
	if err != nil {
		return rpc.BearerToken{}, err
	}

	t := rpc.BearerToken{ID: s.prefix + uuid.New().String(), Secret: secret}
	now := time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s (id, token_hash, workspace_id, bound_cookies, created_at, last_used_at) VALUES ($1, $2, $3, '{}', $4, $4)`, s.table)
	if _, err := s.db.ExecContext(ctx, query, t.ID, hashSecret(secret), workspaceID, now); err != nil {
		return rpc.BearerToken{}, fmt.Errorf("insert session: %w", err)
	}

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
	query := fmt.Sprintf(`SELECT bound_cookies FROM %s WHERE id = $1`, s.table)
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, t.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session %q: %w", t.ID, err)
	}

	var bound map[string]string
	if err := json.Unmarshal(raw, &bound); err != nil {
		return nil, fmt.Errorf("decode bound cookies for %q: %w", t.ID, err)
	}
	rec, err := quillcrypto.DecryptRecord(sessionauth.Record{BoundCookies: bound}, s.encKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt bound cookies for %q: %w", t.ID, err)
	}
	names := make([]string, 0, len(rec.BoundCookies))
	for name := range rec.BoundCookies {
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) GetAuthorizedTarget(ctx context.Context, t rpc.BearerToken, cookies map[string]string) (any, error) {
	query := fmt.Sprintf(`SELECT token_hash, workspace_id, bound_cookies FROM %s WHERE id = $1`, s.table)

	var tokenHash, workspaceID string
	var rawCookies []byte
	err := s.db.QueryRowContext(ctx, query, t.ID).Scan(&tokenHash, &workspaceID, &rawCookies)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session %q: %w", t.ID, err)
	}

	if tokenHash != hashSecret(t.Secret) {
		return nil, nil
	}

	var bound map[string]string
	if err := json.Unmarshal(rawCookies, &bound); err != nil {
		return nil, fmt.Errorf("decode bound cookies for %q: %w", t.ID, err)
	}
	rec, err := quillcrypto.DecryptRecord(sessionauth.Record{BoundCookies: bound}, s.encKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt bound cookies for %q: %w", t.ID, err)
	}

	now := time.Now().UTC()
	if len(rec.BoundCookies) == 0 && len(cookies) > 0 {
		toStore, err := quillcrypto.EncryptRecord(sessionauth.Record{BoundCookies: cookies}, s.encKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt bound cookies for %q: %w", t.ID, err)
		}
		boundJSON, err := json.Marshal(toStore.BoundCookies)
		if err != nil {
			return nil, fmt.Errorf("encode bound cookies for %q: %w", t.ID, err)
		}
		updateQuery := fmt.Sprintf(`UPDATE %s SET bound_cookies = $2, last_used_at = $3 WHERE id = $1`, s.table)
		if _, err := s.db.ExecContext(ctx, updateQuery, t.ID, boundJSON, now); err != nil {
			return nil, fmt.Errorf("bind cookies for %q: %w", t.ID, err)
		}
	} else {
		touchQuery := fmt.Sprintf(`UPDATE %s SET last_used_at = $2 WHERE id = $1`, s.table)
		if _, err := s.db.ExecContext(ctx, touchQuery, t.ID, now); err != nil {
			return nil, fmt.Errorf("touch session %q: %w", t.ID, err)
		}
	}

	return s.resolve(ctx, workspaceID)
}

// Revoke deletes a session; subsequent authorizations fail.
func (s *Store) Revoke(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
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
