package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AuditConfig holds audit middleware configuration
type AuditConfig struct {
	Logger    logrus.FieldLogger
	SkipPaths []string // Paths to skip audit logging
}

// AuditMiddleware writes one structured log entry per state-changing request
func AuditMiddleware(config AuditConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		startTime := time.Now()
		err := c.Next()

		action := determineAction(c.Method(), path)
		if !ShouldAudit(action) {
			return err
		}

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		entry := config.Logger.WithFields(logrus.Fields{
			"action":   action,
			"resource": extractResource(path),
			"status":   status,
			"duration": time.Since(startTime).Milliseconds(),
			"ip":       c.IP(),
		})
		if userID := c.Locals("user_id"); userID != nil {
			entry = entry.WithField("user_id", userID)
		}

		if err != nil || status >= 400 {
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Warn("Audit")
		} else {
			entry.Info("Audit")
		}

		return err
	}
}

// determineAction determines the action from HTTP method and path
func determineAction(method, path string) string {
	if strings.Contains(path, "/auth/login") {
		return "auth.login"
	}
	if strings.Contains(path, "/auth/logout") {
		return "auth.logout"
	}
	if strings.HasSuffix(path, "/select") {
		return fmt.Sprintf("%s.select", resourceName(path))
	}

	if resource := resourceName(path); resource != "" {
		parts := strings.Split(strings.Trim(path, "/"), "/")
		switch method {
		case fiber.MethodGet:
			if len(parts) > 3 {
				return fmt.Sprintf("%s.read", resource)
			}
			return fmt.Sprintf("%s.list", resource)
		case fiber.MethodPost:
			return fmt.Sprintf("%s.create", resource)
		case fiber.MethodPut, fiber.MethodPatch:
			return fmt.Sprintf("%s.update", resource)
		case fiber.MethodDelete:
			return fmt.Sprintf("%s.delete", resource)
		}
	}

	return fmt.Sprintf("%s.%s", strings.ToLower(method), path)
}

// resourceName returns "sessions" for /api/v1/sessions/...
func resourceName(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// extractResource returns the resource id part of the path, if any
func extractResource(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 4 {
		return ""
	}
	return strings.Join(parts[3:], "/")
}

// SensitiveActions that should always be logged
var SensitiveActions = []string{
	"auth.login",
	"auth.logout",
	"credentials.update",
	"credentials.delete",
}

// ShouldAudit determines if an action should be audited
func ShouldAudit(action string) bool {
	for _, sensitive := range SensitiveActions {
		if action == sensitive {
			return true
		}
	}
	// Audit all write operations by default
	return strings.Contains(action, "create") ||
		strings.Contains(action, "update") ||
		strings.Contains(action, "delete") ||
		strings.Contains(action, "select")
}
