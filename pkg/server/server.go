package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/auth"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/contextstore"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/mediator"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/observability"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/ratelimit"
)

// callerIdentity keys rate limits by the validated JWT subject when
// present, falling back to the client IP.
func callerIdentity(r *http.Request) string {
	if claims := auth.GetClaims(r); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return ratelimit.RemoteAddrIdentifier(r)
}

// Server owns the gateway's HTTP surface and the lifecycle of its
// background tasks (queue connection, TTL sweeper).
type Server struct {
	cfg      *config.Config
	mediator *mediator.Mediator
	store    *contextstore.Store

	httpServer    *http.Server
	jwtValidator  *auth.JWTValidator
	observability *observability.Manager
	limiter       *ratelimit.Limiter

	sweeperStop chan struct{}
	closers     []func()

	wg sync.WaitGroup
}

// Option configures the Server.
type Option func(*Server)

// WithJWTValidator enables JWT validation on the agent-facing routes.
func WithJWTValidator(v *auth.JWTValidator) Option {
	return func(s *Server) {
		s.jwtValidator = v
	}
}

// WithObservability attaches the tracing and metrics manager.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.observability = obs
	}
}

// WithCloser registers a teardown function run during Stop, after the
// HTTP listener has drained.
func WithCloser(fn func()) Option {
	return func(s *Server) {
		s.closers = append(s.closers, fn)
	}
}

// New wires the server around an assembled mediator and context store.
func New(cfg *config.Config, med *mediator.Mediator, store *contextstore.Store, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		mediator:    med,
		store:       store,
		sweeperStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Gateway.Address(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)
	if s.observability != nil {
		r.Use(observability.HTTPMiddleware(
			s.observability.GetTracer("gateway"), s.observability.GetMetrics()))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if s.cfg.Observability != nil && s.cfg.Observability.Metrics.Enabled {
		r.Get(s.cfg.Observability.Metrics.Endpoint, observability.Handler().ServeHTTP)
	}

	// Agent-facing surface.
	r.Group(func(r chi.Router) {
		if s.jwtValidator != nil {
			r.Use(s.jwtValidator.HTTPMiddleware)
		}
		if rl := s.cfg.Gateway.RateLimit; rl != nil && rl.Enabled {
			s.limiter = ratelimit.New(rl.Limit, rl.Window)
			r.Use(ratelimit.Middleware(s.limiter, callerIdentity))
		}
		r.Post("/mcp", s.handleJSONRPC)
		r.Get("/mcp/ws", s.handleWebSocket)
	})

	// Executor-only surface.
	r.Group(func(r chi.Router) {
		executorToken := ""
		if s.cfg.Auth != nil {
			executorToken = s.cfg.Auth.ExecutorToken
		}
		r.Use(auth.ExecutorTokenMiddleware(executorToken))
		r.Get("/context", s.handleContextCounts)
		r.Get("/context/{requestID}", s.handleContextFetch)
		r.Post("/callback", s.handleCallback)
	})

	return r
}

// Start begins serving and launches the TTL sweeper. Blocks until the
// listener stops.
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.store.RunSweeper(s.cfg.Gateway.CleanupInterval, s.sweeperStop)
	}()
	if s.limiter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.limiter.RunSweeper(s.cfg.Gateway.CleanupInterval, s.sweeperStop)
		}()
	}

	slog.Info("Gateway listening",
		"address", s.cfg.Gateway.Address(),
		"queue", s.cfg.RabbitMQ.Queue,
		"execution_timeout", s.cfg.Gateway.ExecutionTimeout)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests up to the configured window, then
// tears down the sweeper, registered closers, and the context store.
func (s *Server) Stop(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Gateway.ShutdownDrain)
	defer cancel()

	err := s.httpServer.Shutdown(drainCtx)

	close(s.sweeperStop)
	s.wg.Wait()

	for _, closer := range s.closers {
		closer()
	}
	s.store.Clear()

	if s.observability != nil {
		if obsErr := s.observability.Shutdown(ctx); obsErr != nil {
			slog.Warn("Observability shutdown failed", "error", obsErr)
		}
	}

	return err
}
