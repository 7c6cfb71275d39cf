// Package server is the HTTP ingress: webhook intake, manual retry
// and trigger endpoints, probes and metrics.
package server

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/health"
	"github.com/p-blackswan/conductor/internal/ingest"
)

// Dispatcher receives parsed events.
type Dispatcher interface {
	Dispatch(ev event.Event)
}

// RejectCounter records failed webhook verifications.
type RejectCounter interface {
	WebhookRejected(source string)
}

// Config holds server construction parameters.
type Config struct {
	SlackVerifier  *ingest.SlackVerifier
	SlackParser    *ingest.SlackParser
	GitHubVerifier *ingest.GitHubVerifier
	GitHubParser   *ingest.GitHubParser
	Retry          RetryStore
	Checker        *health.Checker
	MetricsHandler http.Handler
	Rejects        RejectCounter
}

// Server is the ingress Fiber application.
type Server struct {
	app    *fiber.App
	cfg    Config
	events Dispatcher
	logger zerolog.Logger
}

// New creates and configures the server.
func New(cfg Config, events Dispatcher, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		cfg:    cfg,
		events: events,
		logger: logger.With().Str("component", "server").Logger(),
	}

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	app.Post("/webhook/:source", s.handleWebhook)
	app.Post("/retry/:pr/ci", s.handleRetryCI)
	app.Post("/retry/:pr/review", s.handleRetryReview)
	app.Post("/trigger/:designId", s.handleTrigger)

	app.Get("/healthz", s.handleLiveness)
	app.Get("/readyz", s.handleReadiness)
	if cfg.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.MetricsHandler))
	}

	return s
}

// Listen starts the server. Blocks until shut down.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleLiveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleReadiness(c *fiber.Ctx) error {
	if s.cfg.Checker != nil && !s.cfg.Checker.Ready(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
