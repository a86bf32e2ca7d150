package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/services"
	"github.com/fluxytools/chatai/internal/sessions"
)

// SessionSummary is a session without its messages, for the sidebar
type SessionSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"createdAt"`
	MessageCount int    `json:"messageCount"`
	Current      bool   `json:"current"`
}

func summarize(sess models.Session, current string) SessionSummary {
	return SessionSummary{
		ID:           sess.ID,
		Title:        sess.Title,
		CreatedAt:    sess.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		MessageCount: len(sess.Messages),
		Current:      sess.ID == current,
	}
}

func sessionNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Session not found",
	})
}

// CreateSession creates a new chat session and selects it
func CreateSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := svc.Sessions.Create(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	}
}

// GetSessions returns all sessions, newest first
func GetSessions(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		current := svc.Sessions.Current()
		list := svc.Sessions.List()

		summaries := make([]SessionSummary, len(list))
		for i, sess := range list {
			summaries[i] = summarize(sess, current)
		}

		return c.JSON(fiber.Map{
			"sessions": summaries,
			"current":  current,
		})
	}
}

// GetSession returns a session with its messages
func GetSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := svc.Sessions.Get(c.Params("id"))
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return sessionNotFound(c)
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(session)
	}
}

// DeleteSession deletes a session
func DeleteSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := svc.Sessions.Delete(c.UserContext(), c.Params("id"))
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return sessionNotFound(c)
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SelectSession makes a session current
func SelectSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := svc.Sessions.Select(id); err != nil {
			return sessionNotFound(c)
		}
		return c.JSON(fiber.Map{
			"current": id,
		})
	}
}
