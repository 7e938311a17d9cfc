package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/internal/application/orchestrator"
	"github.com/aescanero/maestro/internal/application/workers"
)

// HealthReporter reports worker pool health
type HealthReporter interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	api          *gin.RouterGroup
	server       *http.Server
	orchestrator *orchestrator.Manager
	health       HealthReporter
	logger       *zap.Logger
	started      time.Time
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	// Metrics serves /metrics; nil uses the default Prometheus registry
	Metrics http.Handler
	// Health is optional
	Health HealthReporter
	// APIToken, when set, is required as a bearer token on /api/v1
	APIToken string
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		health:       cfg.Health,
		logger:       logger,
		started:      time.Now(),
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s.setupRoutes(metrics, cfg.APIToken)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler, token string) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	s.api = s.router.Group("/api/v1", tokenAuth(token))
	{
		// Definition endpoints
		s.api.GET("/definitions", s.handleListDefinitions)
		s.api.PUT("/definitions/:name", s.handleSaveDefinition)
		s.api.GET("/definitions/:name", s.handleGetDefinition)
		s.api.DELETE("/definitions/:name", s.handleDeleteDefinition)
		s.api.POST("/definitions/:name/runs", s.handleRunDefinition)

		// Run endpoints
		s.api.POST("/runs", s.handleRunDocument)
		s.api.GET("/runs", s.handleListRuns)
		s.api.GET("/runs/:id", s.handleGetRun)
		s.api.POST("/runs/:id/cancel", s.handleCancelRun)
	}
}

// SetupWebSocket adds the run event stream to the API group
func (s *Server) SetupWebSocket(handler interface{ HandleRunStream(*gin.Context) }) {
	s.api.GET("/runs/:id/ws", handler.HandleRunStream)
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
