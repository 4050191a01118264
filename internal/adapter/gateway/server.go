package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"codegen-agent/internal/adapter/tool"
	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/infra/middleware"
	"codegen-agent/internal/usecase"
)

// AgentService is the slice of usecase.Service the gateway calls.
type AgentService interface {
	Submit(ctx context.Context, sessionID, text string) (*usecase.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*usecase.SessionInfo, error)
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ActiveSessions() int
}

// ToolCatalog lists registered tools by group.
type ToolCatalog interface {
	Group(group string) []tool.Info
}

// SessionEvents delivers one session's events to a handler.
type SessionEvents interface {
	SubscribeSession(sessionID string, handler domain.EventHandler) func()
}

// Deps holds everything the gateway handlers need.
type Deps struct {
	Service          AgentService
	Tools            ToolCatalog
	Events           SessionEvents   // optional, nil = no websocket deltas
	Bus              domain.EventBus // optional, nil = no metrics counters
	Auth             Authenticator   // nil = open gateway
	APIKeyConfigured bool
	Version          string // published in the mDNS TXT record
	Logger           *slog.Logger
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg     config.GatewayConfig
	deps    Deps
	metrics *Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsub     func()
}

// NewServer creates a gateway server. It does not listen until Start.
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: &Metrics{started: time.Now()},
		logger:  deps.Logger,
	}
	if deps.Bus != nil {
		s.unsub = s.metrics.subscribe(deps.Bus)
	}
	return s
}

// Handler returns the full route tree wrapped in the middleware chain. The
// rate limiter's cleanup goroutine stops when ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.Handler { return requireAuth(s.deps.Auth, h) }

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /api/generate", auth(s.handleGenerate))
	mux.Handle("GET /api/sessions", auth(s.handleListSessions))
	mux.Handle("GET /api/sessions/{id}", auth(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", auth(s.handleDeleteSession))
	mux.Handle("GET /api/tools", auth(s.handleTools))
	mux.Handle("GET /metrics", auth(s.handleMetrics))
	mux.Handle("GET /ws/{id}", auth(s.handleWebsocket))

	mws := []func(http.Handler) http.Handler{middleware.SecurityHeaders}
	if len(s.cfg.AllowedOrigins) > 0 {
		mws = append(mws, middleware.CORS(s.cfg.AllowedOrigins))
	}
	if rl := s.cfg.RateLimit; rl.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}))
	}
	return middleware.Chain(mux, mws...)
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", s.BoundAddr(), "auth", s.deps.Auth != nil)

	if s.cfg.MDNS.Enabled {
		go func() {
			err := Advertise(ctx, s.cfg.MDNS.Instance, s.BoundAddr(), s.deps.Version, s.deps.Auth != nil, s.logger)
			if err != nil {
				s.logger.Warn("mdns advertisement disabled", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
