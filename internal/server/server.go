// Package server wires cmd/quillcore's HTTP surface: the WebSocket and POST
// RPC transports, a liveness probe, and the standard middleware chain.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rakunlabs/ada"
	"github.com/rakunlabs/quillcore/internal/config"
	"github.com/rakunlabs/quillcore/pkg/rpc"
	"github.com/rakunlabs/quillcore/pkg/rpc/jsoncodec"
	"github.com/rakunlabs/quillcore/pkg/rpc/transporthttp"
	"github.com/rakunlabs/quillcore/pkg/rpc/transportws"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"log/slog"
)

// Minter issues new bearer tokens bound to a workspace. The SQL-backed and
// in-memory sessionauth stores all implement it; it's kept separate from
// rpc.TokenAuthorizer because provisioning a session is an admin concern,
// not part of the per-request authorization policy.
type Minter interface {
	Mint(ctx context.Context, workspaceID string) (rpc.BearerToken, error)
}

// Server serves the RPC transports and tracks long-lived WebSocket
// connections so idle targets inside their Contexts can be swept
// periodically. POST connections are single-request and never registered —
// they have nothing left to sweep once the handler returns.
type Server struct {
	config config.Server
	info   *rpc.ContextInfo
	minter Minter
	server *ada.Server
	logger *slog.Logger

	connMu sync.Mutex
	conns  map[string]*rpc.BaseConnection
}

// New builds the mux, installs the standard middleware chain, and registers
// the RPC routes. authorizer may be nil (every target id is then treated as
// an uncontrolled plain id). minter may also be nil, in which case
// /admin/sessions is disabled regardless of AdminToken.
func New(cfg config.Server, authorizer rpc.TokenAuthorizer, minter Minter, logger *slog.Logger) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config: cfg,
		info:   rpc.NewContextInfo(jsoncodec.New(), authorizer),
		minter: minter,
		server: mux,
		logger: logger,
		conns:  make(map[string]*rpc.BaseConnection),
	}

	baseGroup := mux.Group(cfg.BasePath)
	if cfg.ForwardAuth != nil {
		slog.Info("forward auth enabled", "url", cfg.ForwardAuth.Address)
		baseGroup.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	}

	baseGroup.GET("/healthz", s.healthz)
	baseGroup.GET("/rpc/ws", s.serveWS)
	baseGroup.POST("/rpc", s.servePOST)

	adminGroup := baseGroup.Group("/admin")
	adminGroup.Use(s.adminAuthMiddleware())
	adminGroup.POST("/sessions", s.createSession)

	return s, nil
}

// Start blocks serving until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	bc, err := rpc.NewBaseConnection(s.info, s.logger, rpc.NoopMetrics(), map[string]any{"name": config.Service})
	if err != nil {
		http.Error(w, "failed to open connection", http.StatusInternalServerError)
		return
	}
	if s.config.IdleGCThreshold > 0 {
		bc.Context().SetIdleWindow(s.config.IdleGCThreshold)
	}

	s.register(bc)
	defer s.unregister(bc)
	// Close runs the full drain sequence (transport.NotifyClosing/Terminate,
	// in-flight wait, Context teardown) once the peer disconnects or the
	// request context is canceled — transportws.Serve returning is not
	// itself a close.
	defer bc.Close(context.Background())

	if err := transportws.Serve(w, r, bc, s.logger, cookiesFromRequest); err != nil {
		s.logger.Warn("transportws: connection ended", "conn", bc.ID, "error", err)
	}
}

func (s *Server) servePOST(w http.ResponseWriter, r *http.Request) {
	bc, err := rpc.NewBaseConnection(s.info, s.logger, rpc.NoopMetrics(), map[string]any{"name": config.Service})
	if err != nil {
		http.Error(w, "failed to open connection", http.StatusInternalServerError)
		return
	}

	transporthttp.Serve(w, r, bc, cookiesFromRequest(r))
}

func cookiesFromRequest(r *http.Request) map[string]string {
	cookies := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return cookies
}

func (s *Server) register(bc *rpc.BaseConnection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[bc.ID] = bc
}

func (s *Server) unregister(bc *rpc.BaseConnection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, bc.ID)
}

// SweepIdleTargets runs Context.GCIdleTargets over every registered
// long-lived connection. Called periodically from a background goroutine
// started by cmd/quillcore.
func (s *Server) SweepIdleTargets() {
	now := time.Now()

	for _, bc := range s.connSnapshot() {
		if bc.Closed() {
			// Close() clears bc.Context() once the drain finishes; skip
			// rather than risk racing its teardown.
			continue
		}
		removed := bc.Context().GCIdleTargets(now)
		if removed > 0 {
			s.logger.Debug("idle-GC swept targets", "conn", bc.ID, "removed", removed)
		}
	}
}

// CloseAllConnections drains and closes every registered connection. Called
// from cmd/quillcore's shutdown path so spec's "Contexts are destroyed on
// connection close" also holds at process exit, not only on a per-peer
// disconnect.
func (s *Server) CloseAllConnections(ctx context.Context) {
	for _, bc := range s.connSnapshot() {
		bc.Close(ctx)
	}
}

func (s *Server) connSnapshot() []*rpc.BaseConnection {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	snapshot := make([]*rpc.BaseConnection, 0, len(s.conns))
	for _, bc := range s.conns {
		snapshot = append(snapshot, bc)
	}
	return snapshot
}
