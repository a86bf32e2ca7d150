package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fluxytools/chatai/internal/api/handlers"
	"github.com/fluxytools/chatai/internal/api/middleware"
	"github.com/fluxytools/chatai/internal/config"
	"github.com/fluxytools/chatai/internal/services"
)

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, svc *services.Services, proxyCfg config.ProxyConfig) {
	// ========================================
	// Free model proxy (public, rate limited)
	// ========================================

	if svc.Proxy != nil {
		app.Post("/api/chat/free",
			middleware.ProxyRateLimit(proxyCfg.RateLimit, proxyCfg.RateLimitReset),
			handlers.FreeChat(svc.Proxy),
		)
	}

	api := app.Group("/api/v1", middleware.AuditMiddleware(middleware.AuditConfig{
		Logger: svc.Logger.WithField("component", "audit"),
		// chat turns are logged by the controller
		SkipPaths: []string{"/api/v1/chat"},
	}))

	// ========================================
	// Public routes (no authentication needed)
	// ========================================

	api.Get("/health", middleware.OptionalAuth(svc.Auth), func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":        "healthy",
			"service":       "chatai",
			"authenticated": middleware.IsAuthenticated(c),
		}
		if svc.Proxy != nil {
			health["upstream"] = svc.Proxy.UpstreamState().String()
		}
		return c.JSON(health)
	})

	auth := api.Group("/auth")
	auth.Post("/login", middleware.AuthRateLimit(), handlers.Login(svc))
	auth.Post("/logout", middleware.AuthRequired(svc.Auth), handlers.Logout(svc))

	// ========================================
	// Protected routes (authentication required)
	// ========================================

	protected := api.Group("", middleware.AuthRequired(svc.Auth))

	protected.Get("/auth/me", handlers.GetCurrentUser(svc))

	// Models
	protected.Get("/models", handlers.GetModels(svc))
	protected.Put("/models/selected", handlers.SelectModel(svc))

	// Credentials, keyed by model id which contains slashes
	protected.Get("/credentials", handlers.ListCredentials(svc))
	protected.Put("/credentials/*", handlers.SaveCredential(svc))
	protected.Delete("/credentials/*", handlers.DeleteCredential(svc))

	// Session management
	protected.Get("/sessions", handlers.GetSessions(svc))
	protected.Post("/sessions", handlers.CreateSession(svc))
	protected.Get("/sessions/:id", handlers.GetSession(svc))
	protected.Delete("/sessions/:id", handlers.DeleteSession(svc))
	protected.Put("/sessions/:id/select", handlers.SelectSession(svc))

	// Chat
	protected.Post("/chat", middleware.ChatRateLimit(), handlers.SendMessage(svc))

	// ========================================
	// WebSocket routes (with auth)
	// ========================================

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			token := middleware.RequestToken(c)
			if token != "" {
				if _, err := svc.Auth.ValidateAccessToken(token); err == nil {
					c.Locals("allowed", true)
					return c.Next()
				}
			}

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required for WebSocket",
			})
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/models", websocket.New(handlers.ModelEvents(svc)))
}
