package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fluxytools/chatai/internal/auth"
	"github.com/fluxytools/chatai/internal/models"
)

// AuthConfig holds the auth middleware configuration
type AuthConfig struct {
	AuthService *auth.Service
	Optional    bool // If true, auth is optional (doesn't fail if no token)
}

// AuthRequired creates a middleware that requires authentication
func AuthRequired(authService *auth.Service) fiber.Handler {
	return AuthMiddleware(AuthConfig{
		AuthService: authService,
		Optional:    false,
	})
}

// OptionalAuth creates a middleware that makes authentication optional
func OptionalAuth(authService *auth.Service) fiber.Handler {
	return AuthMiddleware(AuthConfig{
		AuthService: authService,
		Optional:    true,
	})
}

// AuthMiddleware is the main authentication middleware
func AuthMiddleware(config AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := RequestToken(c)

		if token == "" && config.Optional {
			return c.Next()
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		userContext, err := config.AuthService.ValidateAccessToken(token)
		if err != nil {
			if !config.Optional {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid or expired token",
				})
			}
			return c.Next()
		}

		storeUserContext(c, userContext)
		return c.Next()
	}
}

// RequestToken finds the bearer token in the Authorization header, the
// access_token cookie or the token query parameter (websocket clients).
func RequestToken(c *fiber.Ctx) string {
	if token := auth.ExtractTokenFromBearer(c.Get("Authorization")); token != "" {
		return token
	}
	if token := c.Cookies("access_token"); token != "" {
		return token
	}
	return c.Query("token")
}

func storeUserContext(c *fiber.Ctx, uc *models.UserContext) {
	c.Locals("user_id", uc.UserID)
	c.Locals("user_context", uc)
}

// GetUserContext retrieves the user context from the fiber context
func GetUserContext(c *fiber.Ctx) *models.UserContext {
	if ctx := c.Locals("user_context"); ctx != nil {
		if userContext, ok := ctx.(*models.UserContext); ok {
			return userContext
		}
	}
	return nil
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *fiber.Ctx) bool {
	return c.Locals("user_id") != nil
}
