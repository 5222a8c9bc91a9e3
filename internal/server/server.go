// Package server exposes the vibe graph over HTTP: CRUD on vibes and edges,
// graph snapshots, statistics, ranking, ingest and decay triggers, plus a
// websocket stream of engine events.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/internal/config"
	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/internal/matcher"
	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/pkg/types"
)

// Advisor turns ranked matches into recommendations.
type Advisor interface {
	Advise(ctx context.Context, scenario types.Scenario, matches []types.Match) *types.Advice
}

// Deps are the components the server is built on. Advisor is optional.
type Deps struct {
	Engine  *engine.VibeEngine
	Matcher *matcher.Service
	Advisor Advisor
	Version string
}

// Server is the vibegraph HTTP API server.
type Server struct {
	cfg     config.ServerConfig
	engine  *engine.VibeEngine
	store   storage.GraphStore
	matcher *matcher.Service
	advisor Advisor
	hub     *Hub
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server and subscribes its websocket hub to engine events.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		store:   deps.Engine.Store(),
		matcher: deps.Matcher,
		advisor: deps.Advisor,
		hub:     NewHub(),
		version: deps.Version,
		started: time.Now(),
	}
	s.engine.SetOnEvent(func(evt engine.Event) { s.hub.Broadcast(evt) })
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(securityHeaders)
	if s.cfg.RateLimit > 0 {
		r.Use(NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/vibes", s.handleListVibes)
		r.Post("/vibes", s.handlePutVibe)
		r.Get("/vibes/recent", s.handleRecentVibes)
		r.Post("/vibes/search", s.handleSearchVibes)
		r.Get("/vibes/{id}", s.handleGetVibe)
		r.Delete("/vibes/{id}", s.handleDeleteVibe)

		r.Get("/edges", s.handleListEdges)
		r.Post("/edges", s.handlePutEdge)

		r.Get("/graph", s.handleGraph)
		r.Get("/stats", s.handleStats)
		r.Get("/strategies", s.handleStrategies)
		r.Post("/match", s.handleMatch)
		r.Post("/ingest", s.handleIngest)
		r.Post("/decay", s.handleDecay)
	})
	r.Get("/ws", s.hub.ServeHTTP)

	s.router = r
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully. It returns the actual listen address, which
// differs from the configured one when the port is 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", goerr.Wrap(err, "failed to listen", goerr.V("addr", addr))
	}

	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
		}
	}()

	go func() {
		<-ctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown error")
		}
		s.hub.Stop()
	}()

	actual := listener.Addr().String()
	log.WithField("addr", actual).Info("HTTP server listening")
	return actual, nil
}
