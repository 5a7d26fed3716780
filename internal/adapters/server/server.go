// Package server exposes the query service over HTTP: a JSON API, a
// websocket event stream, an MCP endpoint and prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/eventbus"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxRows         = 50
	maxBodyBytes           = 1 << 20
)

// EventSource is the part of the event bus the websocket stream reads from.
type EventSource interface {
	SubscribeAll(bufferSize int) (eventbus.Subscriber, error)
	UnsubscribeAll(sub eventbus.Subscriber)
}

// Config configures the HTTP server.
type Config struct {
	Addr            string
	Tokens          []string // bearer tokens; empty disables auth
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxRows         int
	Version         string
}

// Deps are the services behind the routes.
type Deps struct {
	Service ports.QueryService
	Runs    ports.RunStore
	Events  EventSource                     // optional
	Ready   func(ctx context.Context) error // optional
}

// Server is the HTTP transport.
type Server struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	mcp  *mcp.Server
	http *http.Server
}

// New builds the server and registers its routes.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Server, error) {
	if deps.Service == nil {
		return nil, errors.New("server: query service is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "server").Logger(),
	}
	mcpServer, err := s.newMCPServer()
	if err != nil {
		return nil, err
	}
	s.mcp = mcpServer

	mux := http.NewServeMux()
	s.routes(mux)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	protect := func(h http.Handler) http.Handler {
		if len(s.cfg.Tokens) == 0 {
			return s.instrument(h)
		}
		return s.instrument(s.authMiddleware(h))
	}

	mux.Handle("POST /v1/query", protect(http.HandlerFunc(s.handleQuery)))
	mux.Handle("POST /v1/plan", protect(http.HandlerFunc(s.handlePlan)))
	mux.Handle("GET /v1/schema", protect(http.HandlerFunc(s.handleSchema)))
	mux.Handle("GET /v1/runs", protect(http.HandlerFunc(s.handleRuns)))
	mux.Handle("GET /v1/runs/{id}", protect(http.HandlerFunc(s.handleRun)))
	mux.Handle("GET /v1/events", protect(http.HandlerFunc(s.handleEvents)))
	mux.Handle("/mcp", protect(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{Stateless: true})))

	mux.Handle("GET /healthz", s.instrument(http.HandlerFunc(s.handleHealthz)))
	mux.Handle("GET /readyz", s.instrument(http.HandlerFunc(s.handleReadyz)))
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Bool("auth", len(s.cfg.Tokens) > 0).Msg("http server listening")

	select {
	case <-ctx.Done():
		s.log.Info().Str("reason", ctx.Err().Error()).Msg("http server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info().Msg("http server shutdown complete")
		return nil
	case err := <-serveErr:
		return err
	}
}
