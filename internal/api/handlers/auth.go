package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fluxytools/chatai/internal/api/middleware"
	"github.com/fluxytools/chatai/internal/auth"
	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/services"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	User        models.User `json:"user"`
	AccessToken string      `json:"access_token"`
	ExpiresIn   int         `json:"expires_in"`
}

// Login handles user login
func Login(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		if req.Email == "" || req.Password == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Email and password are required",
			})
		}

		user, token, err := svc.Login(c.UserContext(), req.Email, req.Name, req.Password)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid email or password",
			})
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooShort):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case err != nil:
			svc.Logger.WithError(err).Error("Login failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Login failed",
			})
		}

		return c.JSON(LoginResponse{
			User:        *user,
			AccessToken: token,
			ExpiresIn:   int(auth.AccessTokenTTL.Seconds()),
		})
	}
}

// Logout signs the user out and removes their stored API keys
func Logout(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.SignOut(c.UserContext()); err != nil {
			svc.Logger.WithError(err).Error("Logout failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Logout failed",
			})
		}
		return c.JSON(fiber.Map{
			"message": "Logged out successfully",
		})
	}
}

// GetCurrentUser returns the signed-in user
func GetCurrentUser(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if middleware.GetUserContext(c) == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Not authenticated",
			})
		}

		user, ok := svc.Auth.CurrentUser()
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Not authenticated",
			})
		}

		public := user.Public()
		return c.JSON(fiber.Map{
			"user":        public,
			"displayName": public.DisplayName(),
		})
	}
}
