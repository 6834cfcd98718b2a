package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"
	"golang.org/x/sync/errgroup"

	"github.com/rakunlabs/quillcore/internal/config"
	"github.com/rakunlabs/quillcore/internal/crypto"
	"github.com/rakunlabs/quillcore/internal/server"
	"github.com/rakunlabs/quillcore/pkg/delta/textdelta"
	"github.com/rakunlabs/quillcore/pkg/docsession"
	"github.com/rakunlabs/quillcore/pkg/rpc"
	"github.com/rakunlabs/quillcore/pkg/sessionauth/litesession"
	"github.com/rakunlabs/quillcore/pkg/sessionauth/memory"
	"github.com/rakunlabs/quillcore/pkg/sessionauth/pgsession"
)

var (
	name    = "quillcore"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workspaces := newWorkspaceRegistry()

	authorizer, minter, closeAuthorizer, err := buildAuthorizer(ctx, cfg, workspaces.resolve)
	if err != nil {
		return fmt.Errorf("failed to build session authorizer: %w", err)
	}
	if closeAuthorizer != nil {
		defer closeAuthorizer()
	}

	srv, err := server.New(cfg.Server, authorizer, minter, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Server.IdleGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				srv.SweepIdleTargets()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		// gctx is already canceled by the time we get here, so close with a
		// fresh context — otherwise the drain's NotifyClosing writes would
		// fail instantly against an already-done context.
		srv.CloseAllConnections(context.Background())
		return nil
	})

	return g.Wait()
}

// buildAuthorizer selects the TokenAuthorizer backend named by
// cfg.Session.Backend. Every backend also implements server.Minter, handed
// back so /admin/sessions can provision tokens against it. The returned
// close func, if non-nil, releases the backend's resources (database
// connections) and must be deferred by the caller.
func buildAuthorizer(ctx context.Context, cfg *config.Config, resolve func(ctx context.Context, workspaceID string) (any, error)) (rpc.TokenAuthorizer, server.Minter, func(), error) {
	var encKey []byte
	if cfg.Session.EncryptionKey != "" {
		key, err := crypto.DeriveKey(cfg.Session.EncryptionKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("derive session encryption key: %w", err)
		}
		encKey = key
	}

	switch cfg.Session.Backend {
	case "", "memory":
		slog.Info("session backend: memory")
		store := memory.New(cfg.Session.TokenPrefix, memory.WorkspaceResolver(resolve))
		return store, store, nil, nil

	case "postgres":
		slog.Info("session backend: postgres")
		store, err := pgsession.New(ctx, cfg.Session.Postgres, cfg.Session.TokenPrefix, encKey, pgsession.WorkspaceResolver(resolve))
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil

	case "sqlite":
		slog.Info("session backend: sqlite")
		store, err := litesession.New(ctx, cfg.Session.SQLite, cfg.Session.TokenPrefix, encKey, litesession.WorkspaceResolver(resolve))
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// workspaceRegistry lazily creates one docsession.Workspace per workspace id,
// the process-wide root that authorized tokens resolve to.
type workspaceRegistry struct {
	mu         sync.Mutex
	workspaces map[string]*docsession.Workspace
}

func newWorkspaceRegistry() *workspaceRegistry {
	return &workspaceRegistry{workspaces: make(map[string]*docsession.Workspace)}
}

func (r *workspaceRegistry) resolve(ctx context.Context, workspaceID string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.workspaces[workspaceID]
	if !ok {
		ws = docsession.NewWorkspace(textdelta.Algebra{})
		r.workspaces[workspaceID] = ws
	}
	return ws, nil
}
