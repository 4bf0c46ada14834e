// Package api serves sessions, plans, validation runs and reports over
// HTTP, with a WebSocket stream of session events.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
	"github.com/devicelab-dev/aiqa-agent/pkg/validation"
)

// Version is reported by /healthz.
const Version = "0.1.0"

// Options are the collaborators served by the API.
type Options struct {
	Controller *session.Controller
	Auth       *session.Authenticator
	Planner    *plan.Generator
	Harness    *validation.Harness // nil disables /api/validation/run
	Catalog    *validation.Catalog
	Store      *report.Store // nil disables /api/reports
}

// Server is the HTTP surface.
type Server struct {
	echo       *echo.Echo
	controller *session.Controller
	auth       *session.Authenticator
	planner    *plan.Generator
	harness    *validation.Harness
	catalog    *validation.Catalog
	store      *report.Store
	policy     *bluemonday.Policy
	upgrader   websocket.Upgrader
	validating atomic.Bool
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		echo:       echo.New(),
		controller: opts.Controller,
		auth:       opts.Auth,
		planner:    opts.Planner,
		harness:    opts.Harness,
		catalog:    opts.Catalog,
		store:      opts.Store,
		policy:     bluemonday.StrictPolicy(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// tokens, not origins, guard the stream
				return true
			},
		},
	}
	if s.catalog == nil {
		s.catalog = validation.DefaultCatalog()
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Output: logger.GetWriter(),
	}))
	s.echo.Use(middleware.Recover())

	s.RegisterRoutes(s.echo)
	return s
}

// RegisterRoutes registers the API routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/auth", s.Authenticate)

	api := e.Group("/api", s.requireToken)
	api.POST("/plan", s.PreviewPlan)

	api.POST("/sessions", s.StartSession)
	api.GET("/sessions/:id", s.GetSession)
	api.GET("/sessions/:id/steps", s.GetSessionSteps)
	api.POST("/sessions/:id/pause", s.PauseSession)
	api.POST("/sessions/:id/resume", s.ResumeSession)
	api.POST("/sessions/:id/abort", s.AbortSession)
	api.POST("/sessions/:id/step", s.StepSession)
	api.POST("/sessions/:id/rerun", s.RerunSession)
	api.GET("/sessions/:id/stream", s.StreamSession)

	api.GET("/validation/cases", s.ListCases)
	api.POST("/validation/run", s.RunValidation)

	api.GET("/reports", s.ListReports)
	api.GET("/reports/:id", s.GetReport)
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	logger.Info("API listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and aborts active sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API")
	err := s.echo.Shutdown(ctx)
	if s.controller != nil {
		s.controller.Shutdown()
	}
	return err
}

// Health returns health status.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
