package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logwarden/internal/config"
)

// Server represents the HTTP server with all configured routes and middleware.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	logger *slog.Logger

	ruleHandler   *RuleHandler
	ingestHandler *IngestHandler
	queryHandler  *QueryHandler
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config        *config.ServerConfig
	Logger        *slog.Logger
	RuleHandler   *RuleHandler
	IngestHandler *IngestHandler
	QueryHandler  *QueryHandler
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           deps.Config.ReadTimeout,
		WriteTimeout:          deps.Config.WriteTimeout,
		IdleTimeout:           deps.Config.IdleTimeout,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:           app,
		config:        deps.Config,
		logger:        deps.Logger,
		ruleHandler:   deps.RuleHandler,
		ingestHandler: deps.IngestHandler,
		queryHandler:  deps.QueryHandler,
	}

	s.registerMiddleware()
	s.registerRoutes()

	return s
}

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.New())

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// Health check endpoint (outside versioned API)
	s.app.Get("/healthz", s.healthCheck)

	// Prometheus metrics endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")

	// Log ingestion
	v1.Post("/logs", s.ingestHandler.IngestLog)

	// Anomaly rule management. The fixed paths register before the :id routes
	// so "summary" is never taken for a rule id.
	v1.Get("/rules/summary", s.ruleHandler.Summary)
	v1.Post("/rules/reload", s.ruleHandler.Reload)
	v1.Post("/rules/test", s.ruleHandler.Test)
	v1.Post("/rules", s.ruleHandler.Create)
	v1.Get("/rules", s.ruleHandler.List)
	v1.Get("/rules/:id", s.ruleHandler.GetByID)
	v1.Put("/rules/:id", s.ruleHandler.Update)
	v1.Patch("/rules/:id", s.ruleHandler.Update)
	v1.Delete("/rules/:id", s.ruleHandler.Delete)

	// Stored events and anomalies (read-only)
	v1.Get("/events", s.queryHandler.ListEvents)
	v1.Get("/anomalies", s.queryHandler.ListAnomalies)
}

// healthCheck returns the health status of the service.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return Success(c, map[string]string{
		"status": "healthy",
	})
}

// App exposes the underlying Fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// customErrorHandler handles errors returned from handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return Error(c, e.Code, ErrCodeInternalError, e.Message)
	}

	return InternalError(c, fmt.Sprintf("unexpected error: %v", err))
}
