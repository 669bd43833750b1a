package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/session"
)

const customerContextKey = "currentCustomer"

// AuthMiddleware requires a valid customer session cookie and loads the
// customer into context.
func AuthMiddleware(cookies *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cust, ok := cookies.Customer(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
		}

		c.Locals(customerContextKey, cust)
		return c.Next()
	}
}

// GetCurrentCustomer extracts the authenticated customer from context.
func GetCurrentCustomer(c *fiber.Ctx) (*session.Customer, bool) {
	cust, ok := c.Locals(customerContextKey).(*session.Customer)
	return cust, ok && cust != nil
}

// AdminMiddleware requires the admin session cookie.
func AdminMiddleware(cookies *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cookies.IsAdmin(c) {
			return fiber.NewError(fiber.StatusUnauthorized, "admin login required")
		}
		return c.Next()
	}
}
