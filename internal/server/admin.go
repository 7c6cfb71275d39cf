package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/store"
)

// RetryStore is the state-store surface the manual endpoints need.
type RetryStore interface {
	GetPRState(prNumber int) (*store.PRState, error)
	ResetPRCIAttempts(prNumber int) error
	ResetPRReviewAttempts(prNumber int) error
	GetDesign(id string) (*store.Design, error)
}

// handleRetryCI zeroes the CI counter and replays a ci:failed event
// through the normal dispatch path.
func (s *Server) handleRetryCI(c *fiber.Ctx) error {
	pr, ok := s.prFromParams(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown PR"})
	}
	if err := s.cfg.Retry.ResetPRCIAttempts(pr.PRNumber); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	ev := event.New(event.SourceInternal, event.CIFailed)
	ev.PRNumber = pr.PRNumber
	ev.IssueKey = pr.IssueKey
	s.events.Dispatch(ev)

	s.logger.Info().Int("pr", pr.PRNumber).Msg("manual CI retry")
	return c.JSON(fiber.Map{"ok": true})
}

// handleRetryReview zeroes the review counter and replays the
// automated review for the PR.
func (s *Server) handleRetryReview(c *fiber.Ctx) error {
	pr, ok := s.prFromParams(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown PR"})
	}
	if err := s.cfg.Retry.ResetPRReviewAttempts(pr.PRNumber); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	ev := event.New(event.SourceInternal, event.AgentCompleted)
	ev.Agent = "code_writer"
	ev.Task = "review_fix"
	ev.DesignID = pr.DesignID
	ev.IssueKey = pr.IssueKey
	ev.PRNumber = pr.PRNumber
	s.events.Dispatch(ev)

	s.logger.Info().Int("pr", pr.PRNumber).Msg("manual review retry")
	return c.JSON(fiber.Map{"ok": true})
}

// handleTrigger re-emits a task:requested event for a stuck design.
func (s *Server) handleTrigger(c *fiber.Ctx) error {
	design, err := s.cfg.Retry.GetDesign(c.Params("designId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown design"})
	}

	ev := event.New(event.SourceInternal, event.TaskRequested)
	ev.DesignID = design.ID
	ev.Message = design.Description
	s.events.Dispatch(ev)

	s.logger.Info().Str("design", design.ID).Msg("manual trigger")
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) prFromParams(c *fiber.Ctx) (*store.PRState, bool) {
	number, err := strconv.Atoi(c.Params("pr"))
	if err != nil {
		return nil, false
	}
	pr, err := s.cfg.Retry.GetPRState(number)
	if err != nil {
		return nil, false
	}
	return pr, true
}
