package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/chat"
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/services"
)

// ModelView is a catalog entry with its usability for the current user
type ModelView struct {
	models.ModelDescriptor
	Usable bool `json:"usable"`
}

// ModelsResponse is the body of GET /models
type ModelsResponse struct {
	Models   []ModelView `json:"models"`
	Selected string      `json:"selected"`
	Hint     string      `json:"hint,omitempty"`
}

func modelViews(creds credentials.Lookup) []ModelView {
	all := catalog.All()
	out := make([]ModelView, len(all))
	for i, m := range all {
		out[i] = ModelView{ModelDescriptor: m, Usable: catalog.IsUsable(m.ID, creds)}
	}
	return out
}

// modelsHint returns the picker hint shown when only the free model is usable
func modelsHint(creds credentials.Lookup) string {
	if len(catalog.Usable(creds)) == 1 {
		return catalog.NoCredentialsHint
	}
	return ""
}

// GetModels lists the catalog
func GetModels(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(ModelsResponse{
			Models:   modelViews(svc.Credentials),
			Selected: svc.Chat.SelectedModel(),
			Hint:     modelsHint(svc.Credentials),
		})
	}
}

// SelectModel changes the model used for new messages
func SelectModel(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			ModelID string `json:"modelId"`
		}
		if err := c.BodyParser(&req); err != nil || req.ModelID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "modelId is required",
			})
		}

		err := svc.Chat.SelectModel(req.ModelID)
		switch {
		case errors.Is(err, chat.ErrUnknownModel):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, chat.ErrCredentialRequired):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":          err.Error(),
				"selected":       svc.Chat.SelectedModel(),
				"openProfile":    true,
				"requestedModel": req.ModelID,
			})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"selected": svc.Chat.SelectedModel(),
		})
	}
}
