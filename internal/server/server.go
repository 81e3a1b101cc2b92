// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/noldarim/procbridge/internal/config"

	"github.com/go-chi/chi/v5"
)

// PollPath is the long-poll endpoint; it is logged at debug level.
const PollPath = "/procbridge/poll"

// Server is an HTTP server with an optional websocket event broadcaster.
type Server struct {
	httpServer  *http.Server
	broadcaster *EventBroadcaster
}

func newRouter(cfg config.ServerConfig, quiet ...string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger(quiet...))
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(limitBody)
	r.Get("/healthz", Health)
	return r
}

func newHTTPServer(addr string, h http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// WorkerRoutes mounts the worker endpoints on r.
func WorkerRoutes(r chi.Router, h *WorkerHandlers, registry *ClientRegistry, allowedOrigins []string) {
	r.Route("/procbridge", func(r chi.Router) {
		r.Post("/register_client", h.RegisterClient)
		r.Post("/poll", h.Poll)
		r.Post("/response", h.Respond)
		r.Get("/workflow_type", h.WorkflowType)
		r.Get("/workflow_types", h.WorkflowTypes)
	})
	r.Post("/prompt", h.QueuePrompt)
	r.Get("/queue", h.GetQueue)
	r.Post("/queue", h.UpdateQueue)
	r.Get("/history", h.ListHistory)
	r.Get("/history/{promptId}", h.GetHistory)
	r.Get("/ws", HandleWebSocket(registry, allowedOrigins, h.Status))
}

// NewWorker creates the worker API server. Events published on deps.Events are
// broadcast to websocket clients once Run is called.
func NewWorker(cfg config.ServerConfig, deps WorkerDeps) *Server {
	registry := NewClientRegistry()
	handlers := NewWorkerHandlers(deps)

	r := newRouter(cfg, PollPath)
	WorkerRoutes(r, handlers, registry, cfg.AllowedOrigins)

	s := &Server{httpServer: newHTTPServer(cfg.Addr(), r, 60*time.Second)}
	if deps.Events != nil {
		s.broadcaster = NewEventBroadcaster(deps.Events, registry)
	}
	return s
}

// DriverRoutes mounts the driver endpoints on r.
func DriverRoutes(r chi.Router, h *DriverHandlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/workflows", h.ListWorkflows)
		r.Post("/workflows/{baseId}/run", h.RunWorkflow)
		r.Put("/workflows/{id}/enabled", h.SetEnabled)
	})
}

// NewDriver creates the driver API server. Workflow runs may take as long as the job
// itself, so writes are not bounded.
func NewDriver(cfg config.ServerConfig, deps DriverDeps) *Server {
	r := newRouter(cfg)
	DriverRoutes(r, NewDriverHandlers(deps))
	return &Server{httpServer: newHTTPServer(cfg.Addr(), r, 0)}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run listens on the configured address and serves until the server is shut down
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve starts the event broadcaster goroutine and serves on ln until ctx ends,
// then shuts the server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.broadcaster != nil {
		go s.runBroadcaster(ctx)
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			getLog().Warn().Err(err).Msg("API server shutdown")
		}
	})
	defer stop()

	getLog().Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) runBroadcaster(ctx context.Context) {
	const maxRetries = 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					getLog().Error().Interface("panic", r).Int("attempt", attempt).Msg("Event broadcaster panic")
				}
			}()
			s.broadcaster.Run(ctx)
		}()

		if ctx.Err() != nil {
			return
		}

		if attempt < maxRetries {
			getLog().Warn().Int("attempt", attempt).Msg("Restarting event broadcaster after panic")
			time.Sleep(1 * time.Second)
		}
	}
	getLog().Error().Msg("Event broadcaster exhausted retries - events will no longer be dispatched")
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
