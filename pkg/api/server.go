// Package api exposes the orchestrator over HTTP: the turn RPC, the admin
// surface for breakers and tenant inspection, and the health and metrics
// endpoints.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlo-ai/parlo/pkg/broker"
	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
	"github.com/parlo-ai/parlo/pkg/turn"
)

// ServerDeps bundles the collaborators the HTTP surface exposes.
type ServerDeps struct {
	Config   *config.Config
	Turns    *turn.Service
	Store    store.Store
	Tenants  *tenant.Cache
	Breakers *broker.BreakerSet
	Warnings *telemetry.Warnings

	// DB backs the database health check. Nil when the store has no SQL
	// backend (in-memory runs); the check is then skipped.
	DB *sql.DB

	// Gatherer backs GET /metrics.
	Gatherer prometheus.Gatherer
}

// Server hosts the HTTP surface.
type Server struct {
	echo     *echo.Echo
	httpSrv  *http.Server
	cfg      *config.Config
	turns    *turn.Service
	store    store.Store
	tenants  *tenant.Cache
	breakers *broker.BreakerSet
	warnings *telemetry.Warnings
	db       *sql.DB
	gatherer prometheus.Gatherer
}

// NewServer creates the server and registers all routes.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		echo:     echo.New(),
		cfg:      deps.Config,
		turns:    deps.Turns,
		store:    deps.Store,
		tenants:  deps.Tenants,
		breakers: deps.Breakers,
		warnings: deps.Warnings,
		db:       deps.DB,
		gatherer: deps.Gatherer,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(requestID(), securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)

	e.POST("/api/v1/turns", s.turnHandler)
	e.GET("/api/v1/conversations/:id", s.conversationHandler)
	e.GET("/api/v1/workspaces/:id/tools", s.workspaceToolsHandler)
	e.POST("/api/v1/admin/breakers/force-half-open", s.forceHalfOpenHandler)
}

// metricsHandler handles GET /metrics with the Prometheus text exposition.
func (s *Server) metricsHandler(c *echo.Context) error {
	if s.gatherer == nil {
		return echo.NewHTTPError(http.StatusNotFound, "metrics not configured")
	}
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(c.Response(), c.Request())
	return nil
}

// Handler exposes the routing tree for in-process tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves HTTP on the configured address. It blocks until the listener
// fails or Shutdown is called; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	slog.Info("HTTP server listening", "addr", s.cfg.Server.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartWithListener serves HTTP on an already-bound listener. Tests use it
// with an ephemeral port to avoid address races.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:      s.echo,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
