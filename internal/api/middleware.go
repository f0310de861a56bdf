package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"fieldconfig-backend/internal/session"
)

const TokenHeader = "X-Session-Token"

// SessionMiddleware resolves the session token from X-Session-Token or a
// Bearer Authorization header and stores the session on the request.
func SessionMiddleware(m *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(TokenHeader)
		if token == "" {
			parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = parts[1]
			}
		}
		if token == "" {
			return Unauthorized("Missing session token")
		}

		s, err := m.Resolve(token)
		if err != nil {
			return Unauthorized("Invalid or expired session")
		}
		c.Locals("session", s)
		return c.Next()
	}
}

// GetSession extracts the session placed by SessionMiddleware.
func GetSession(c *fiber.Ctx) *session.Session {
	s, _ := c.Locals("session").(*session.Session)
	return s
}
