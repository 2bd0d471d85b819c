// Package server exposes the HTTP surface: demo API routes wired
// through the capture middleware, plus health and metrics endpoints.
package server

import (
	"context"
	"net/http"
	"path"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apilogger/internal/apilog"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64  // Max request body size in bytes (default: 10MB)

	Pipeline apilog.Service // Capture pipeline; nil disables capture
	Builder  *apilog.Builder
}

// New creates a new HTTP server
func New(cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler()

	metricsPath := "/metrics"
	if cfg != nil && cfg.MetricsEnabled && cfg.MetricsEndpoint != "" {
		// Normalize path to prevent traversal attacks
		metricsPath = path.Clean(cfg.MetricsEndpoint)
	}

	// Global middleware stack (order matters)
	e.Use(middleware.Recover())

	bodySizeLimit := int64(10 * 1024 * 1024)
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	// Capture middleware runs inside Recover so panics still return 500s
	if cfg != nil && cfg.Pipeline != nil && cfg.Builder != nil {
		e.Use(apilog.Middleware(cfg.Pipeline, cfg.Builder))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// Demo API routes
	e.POST("/api/echo", handler.Echo)
	e.GET("/api/time", handler.Time)
	e.POST("/api/login", handler.Login)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
