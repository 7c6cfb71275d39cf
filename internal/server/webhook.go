package server

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/ingest"
)

// fiberHeaders adapts a Fiber request to the verifier Headers surface.
type fiberHeaders struct {
	c *fiber.Ctx
}

func (h fiberHeaders) Get(key string) string {
	return h.c.Get(key)
}

// handleWebhook verifies, parses and dispatches one delivery. The
// verifier runs first; on failure the parser never sees the body.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	source := c.Params("source")
	body := c.Body()

	var verifier ingest.Verifier
	switch source {
	case "slack":
		verifier = s.cfg.SlackVerifier
	case "github":
		verifier = s.cfg.GitHubVerifier
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown source"})
	}

	if err := verifier.Verify(fiberHeaders{c}, body); err != nil {
		s.logger.Warn().Err(err).Str("source", source).Msg("webhook verification failed")
		if s.cfg.Rejects != nil {
			s.cfg.Rejects.WebhookRejected(source)
		}
		status := fiber.StatusUnauthorized
		if errors.Is(err, cerrors.ErrReplayAttack) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	var events []event.Event
	var err error
	switch source {
	case "slack":
		// Slack URL verification handshake answers inline.
		if challenge := slackChallenge(body); challenge != "" {
			return c.JSON(fiber.Map{"challenge": challenge})
		}
		events, err = s.cfg.SlackParser.Parse(body)
	case "github":
		events, err = s.cfg.GitHubParser.Parse(c.Get("X-GitHub-Event"), body)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("source", source).Msg("webhook parse failed")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	for _, ev := range events {
		s.events.Dispatch(ev)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func slackChallenge(body []byte) string {
	var payload struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Type == "url_verification" {
		return payload.Challenge
	}
	return ""
}
