package handlers

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/services"
)

// CredentialView is a stored key as shown in the profile
type CredentialView struct {
	ModelID      string `json:"modelId"`
	ModelName    string `json:"modelName,omitempty"`
	MaskedKey    string `json:"maskedKey"`
	IsConfigured bool   `json:"isConfigured"`
}

// modelIDParam reads the greedy model id route parameter. Model ids
// contain slashes, which clients may also send escaped.
func modelIDParam(c *fiber.Ctx) (string, bool) {
	raw := c.Params("*")
	id, err := url.PathUnescape(raw)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// ListCredentials lists every paid model with its masked key
func ListCredentials(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		views := make([]CredentialView, 0)
		for _, m := range catalog.All() {
			if m.IsFree {
				continue
			}
			view := CredentialView{ModelID: m.ID, ModelName: m.DisplayName}
			if key, ok := svc.Credentials.Get(m.ID); ok {
				view.MaskedKey = credentials.Mask(key)
				view.IsConfigured = true
			}
			views = append(views, view)
		}
		return c.JSON(fiber.Map{
			"credentials": views,
		})
	}
}

// SaveCredential stores the API key for a model
func SaveCredential(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		modelID, ok := modelIDParam(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "model id is required",
			})
		}
		if _, ok := catalog.Find(modelID); !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "unknown model",
			})
		}

		var req struct {
			APIKey string `json:"apiKey"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		err := svc.Credentials.Set(c.UserContext(), modelID, req.APIKey)
		switch {
		case errors.Is(err, credentials.ErrEmptyAPIKey), errors.Is(err, credentials.ErrEmptyModelID):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case err != nil:
			svc.Logger.WithError(err).Error("Failed to save credential")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to save API key",
			})
		}

		key, _ := svc.Credentials.Get(modelID)
		return c.JSON(CredentialView{
			ModelID:      modelID,
			MaskedKey:    credentials.Mask(key),
			IsConfigured: true,
		})
	}
}

// DeleteCredential removes the API key for a model
func DeleteCredential(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		modelID, ok := modelIDParam(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "model id is required",
			})
		}

		if err := svc.Credentials.Remove(c.UserContext(), modelID); err != nil {
			svc.Logger.WithError(err).Error("Failed to remove credential")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to remove API key",
			})
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}
