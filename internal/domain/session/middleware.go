package session

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opsdeck/opsdeck/internal/utils"
)

const (
	// sessionKey is the key used to store the validated session in
	// Fiber context
	sessionKey = "validated_session"
)

// Middleware validates the session cookies on every request. Every
// unauthenticated outcome, supersession included, answers 401; the
// token-expiry cascade has already run inside Validate by the time
// the 401 leaves.
func Middleware(m *Manager, cookies CookieSet) fiber.Handler {
	return func(c *fiber.Ctx) error {
		proof, ok := cookies.Read(c)
		if !ok {
			return utils.ErrNotAuthenticated
		}

		sess, err := m.Validate(c.UserContext(), proof)
		if err != nil {
			return utils.ErrSessionValidationFailed
		}
		if sess == nil {
			cookies.Clear(c)
			return utils.ErrNotAuthenticated
		}

		PutCtx(c, sess)
		return c.Next()
	}
}

// PutCtx stores a validated session on the request context.
func PutCtx(c *fiber.Ctx, sess *Session) {
	c.Locals(sessionKey, sess)
}

// FromCtx extracts the validated session placed by Middleware.
func FromCtx(c *fiber.Ctx) *Session {
	sess, ok := c.Locals(sessionKey).(*Session)
	if !ok {
		return nil
	}
	return sess
}
