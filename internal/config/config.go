package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server    Server      `cfg:"server"`
	Session   Session     `cfg:"session"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// ForwardAuth, if set, configures the server to forward auth requests to
	// an external authentication service before accepting a connection.
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`

	// IdleGCInterval is how often the server sweeps connections for
	// idle non-evergreen targets past IdleGCThreshold.
	IdleGCInterval time.Duration `cfg:"idle_gc_interval" default:"5m"`

	// IdleGCThreshold is how long a non-evergreen target may go unreferenced
	// by its peer before it's eligible for garbage collection. It is applied
	// to each WebSocket connection's Context when the connection opens.
	IdleGCThreshold time.Duration `cfg:"idle_gc_threshold" default:"20m"`

	TLS *TLSConfig `cfg:"tls"`

	// AdminToken, if set, protects the /admin/* endpoints (session
	// provisioning) with bearer token authentication. Requests must include
	// "Authorization: Bearer <token>". If not set, admin endpoints are
	// disabled (403 Forbidden).
	AdminToken string `cfg:"admin_token" log:"-"`
}

type TLSConfig struct {
	CertFile string `cfg:"cert_file"`
	KeyFile  string `cfg:"key_file"`
}

// Session configures the token/session backend that authorizes bearer
// tokens into target objects.
type Session struct {
	// Backend selects the persistence for minted sessions: "memory",
	// "postgres", or "sqlite".
	Backend string `cfg:"backend" default:"memory"`

	// TokenPrefix distinguishes minted token ids from freshly generated
	// non-token connection/object ids.
	TokenPrefix string `cfg:"token_prefix" default:"tok-"`

	Postgres *SessionPostgres `cfg:"postgres"`
	SQLite   *SessionSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption of the cookie
	// values bound to a session, at rest. Any non-empty string is accepted;
	// the 32-byte key is its SHA-256 digest.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type SessionPostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`
}

type SessionSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("QUILLCORE_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
