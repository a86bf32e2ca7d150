package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fluxytools/chatai/internal/chat"
	"github.com/fluxytools/chatai/internal/services"
)

// SendMessage runs one conversation turn
func SendMessage(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		outcome, err := svc.Chat.Send(c.UserContext(), req.Content)
		switch {
		case errors.Is(err, chat.ErrUnauthenticated):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, chat.ErrEmptyMessage):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, chat.ErrBusy):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		case err != nil:
			svc.Logger.WithError(err).Error("Chat turn failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(outcome)
	}
}
