// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/transport"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:9464"

	// DefaultHealthTimeout bounds the model server check in /healthz.
	DefaultHealthTimeout = 2 * time.Second
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// ModelServer is checked by /healthz.
type ModelServer interface {
	CheckRunning(ctx context.Context) error
}

// ChannelStatus reports the event channel state.
type ChannelStatus interface {
	State() transport.State
	Exhausted() bool
	QueueLen() int
}

// StatusSource reports the session status.
type StatusSource interface {
	Status() session.Status
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes Prometheus metrics and health over HTTP.
type Server struct {
	addr    string
	router  chi.Router
	server  *http.Server
	limiter *RateLimiter
	logger  zerolog.Logger

	ollama  ModelServer
	channel ChannelStatus
	status  StatusSource

	mu       sync.RWMutex
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithModelServer enables the model server check.
func WithModelServer(m ModelServer) Option {
	return func(s *Server) { s.ollama = m }
}

// WithChannel reports the event channel in /healthz.
func WithChannel(c ChannelStatus) Option {
	return func(s *Server) { s.channel = c }
}

// WithStatus enables /status.
func WithStatus(src StatusSource) Option {
	return func(s *Server) { s.status = src }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimiter replaces the default per-IP limiter.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// New creates a Server listening on addr once started.
func New(addr string, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		limiter: DefaultRateLimiter(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(SecurityHeadersMiddleware())
	r.Use(LoggingMiddleware(s.logger))
	r.Use(RateLimitMiddleware(s.limiter, s.logger))

	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", s.handleHealth)
	if s.status != nil {
		r.Get("/status", s.handleStatus)
	}
	s.router = r
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status       string `json:"status"`
	OllamaStatus string `json:"ollama_status"`
	Channel      string `json:"channel,omitempty"`
	Queued       int    `json:"queued,omitempty"`
}

// handleHealth answers 200 when the model server responds and 503
// otherwise. A lost event channel degrades the status but is not fatal.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{Status: "ok", OllamaStatus: "not_configured"}
	code := http.StatusOK

	if s.ollama != nil {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
		defer cancel()

		if err := s.ollama.CheckRunning(ctx); err != nil {
			health.OllamaStatus = "unavailable"
			health.Status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			health.OllamaStatus = "ok"
		}
	}

	if s.channel != nil {
		health.Channel = s.channel.State().String()
		health.Queued = s.channel.QueueLen()
		if s.channel.Exhausted() {
			health.Channel = "exhausted"
			if health.Status == "ok" {
				health.Status = "degraded"
			}
		}
	}

	s.writeJSON(w, code, health)
}

// ============================================================================
// STATUS HANDLER
// ============================================================================

// StatusResponse is the /status body.
type StatusResponse struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxContext    int     `json:"max_context,omitempty"`
	State         string  `json:"state"`
	Turns         int     `json:"turns"`
	Completed     int     `json:"completed"`
	Cancelled     int     `json:"cancelled"`
	Failed        int     `json:"failed"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Model:         st.Model,
		Temperature:   st.Temperature,
		MaxContext:    st.MaxContext,
		State:         st.State.String(),
		Turns:         st.Stats.Turns,
		Completed:     st.Stats.Completed,
		Cancelled:     st.Stats.Cancelled,
		Failed:        st.Stats.Failed,
		UptimeSeconds: int64(st.Uptime.Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug().Msg("metrics server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}
