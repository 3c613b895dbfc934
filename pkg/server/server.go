// Package server exposes the Request Governor over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-companion/pkg/governor"
	"github.com/polisai/polis-companion/pkg/storage"
	"github.com/polisai/polis-companion/pkg/telemetry"
)

// Config wires the server's collaborators.
type Config struct {
	Governor *governor.Governor
	Store    storage.ConversationStore
	// Metrics is optional; /metrics is not served without it.
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the chat HTTP server.
type Server struct {
	governor *governor.Governor
	store    storage.ConversationStore
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	handler  http.Handler

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Governor == nil {
		return nil, errors.New("server: governor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: conversation store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		governor: cfg.Governor,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   logger,
	}

	s.handler = s.routes()
	s.http = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:  orDefault(cfg.IdleTimeout, 120*time.Second),
	}
	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleHistory)
	mux.HandleFunc("GET /healthz", handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.Handle("GET /static/", staticHandler())
	mux.HandleFunc("GET /{$}", handleIndex)

	var h http.Handler = mux
	h = s.logRequests(h)
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	h = s.requestID(h)
	return otelhttp.NewHandler(h, "companion.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + telemetry.EndpointName(r.URL.Path)
		}),
	)
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds addr and serves in the background. Serve errors other than a
// clean shutdown are logged.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Server listening", "addr", listener.Addr().String())

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
