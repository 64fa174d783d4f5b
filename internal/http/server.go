// Package http provides the lmaudit REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/services"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

// maxImageBytes bounds label image uploads.
const maxImageBytes = 10 << 20

// Server provides HTTP endpoints for lmaudit.
type Server struct {
	echo     *echo.Echo
	services services.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Telemetry receives request metrics. Nil uses the global meter provider.
	Telemetry *telemetry.Telemetry
}

// NewServer creates a new HTTP server.
func NewServer(reg services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("service registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(cfg.Telemetry, logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			var internal error
			if err := next(c); err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					internal = he.Internal
				}
				// Render now so the logged status is the one sent.
				c.Error(err)
			}

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			}
			if c.Response().Status >= http.StatusInternalServerError {
				if internal != nil {
					fields = append(fields, zap.Error(internal))
				}
				logger.Error("http request failed", fields...)
			} else {
				logger.Info("http request", fields...)
			}
			return nil
		}
	})

	s := &Server{
		echo:     e,
		services: reg,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.services.Metrics(), promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/audits", s.handleAudit)
	v1.POST("/audits/url", s.handleAuditURL)
	v1.POST("/audits/image", s.handleAuditImage, middleware.BodyLimit("12M"))
	v1.POST("/audits/bulk", s.handleAuditBulk)

	v1.POST("/tasks", s.handleSubmitTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.DELETE("/tasks/:id", s.handleCancelTask)

	v1.GET("/reports", s.handleFindReports)
	v1.GET("/reports/export.csv", s.handleExportReports)
	v1.GET("/reports/:id", s.handleGetReport)

	v1.GET("/analytics/summary", s.handleSummary)
	v1.GET("/analytics/risk-distribution", s.handleRiskDistribution)
	v1.GET("/analytics/violations", s.handleViolations)
	v1.GET("/analytics/timeline", s.handleTimeline)
	v1.GET("/analytics/categories", s.handleCategoryStats)

	v1.GET("/categories", s.handleCategories)
	v1.GET("/categories/:id/rules", s.handleCategoryRules)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start serves until ctx is done, then shuts down within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
