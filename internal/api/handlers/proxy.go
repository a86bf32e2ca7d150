package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/fluxytools/chatai/internal/completion"
	"github.com/fluxytools/chatai/internal/proxy"
)

// FreeChatRequest is the body of POST /api/chat/free. Model is accepted
// for compatibility and ignored.
type FreeChatRequest struct {
	Model    string                         `json:"model"`
	Messages []openai.ChatCompletionMessage `json:"messages"`
}

// FreeChat proxies a free-model completion with the server credential
func FreeChat(svc *proxy.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req FreeChatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if len(req.Messages) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": proxy.ErrNoMessages.Error(),
			})
		}

		body, err := svc.Complete(c.UserContext(), req.Messages)
		if errors.Is(err, proxy.ErrCircuitOpen) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": upstreamErrorText(err),
			})
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}
}

// upstreamErrorText returns the upstream body for status failures and the
// error text otherwise
func upstreamErrorText(err error) string {
	var statusErr *completion.StatusError
	if errors.As(err, &statusErr) && statusErr.Body != "" {
		return statusErr.Body
	}
	return err.Error()
}
