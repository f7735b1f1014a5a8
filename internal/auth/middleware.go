package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/metadata"
)

// Middleware returns a Fiber middleware that validates bearer tokens
// and sets the Principal on the request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := BearerToken(c)
		if err != nil {
			return err
		}

		claims, err := ParseToken(token, secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		principal, err := claims.Principal()
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}
		c.Locals("principal", principal)

		return c.Next()
	}
}

// RequireAdministrator checks the authenticated principal has the
// administrator role.
func RequireAdministrator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := GetPrincipal(c)
		if p == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !p.IsAdministrator() {
			return engine.ForbiddenError("Administrator access required")
		}
		return c.Next()
	}
}

// RequireCapability checks the authenticated principal holds the given
// capability.
func RequireCapability(capability string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := GetPrincipal(c)
		if p == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !p.Can(capability) {
			return engine.ForbiddenError("Missing capability " + capability)
		}
		return c.Next()
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get("Authorization")
	if header == "" {
		return "", engine.UnauthorizedError("Missing auth token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", engine.UnauthorizedError("Invalid auth header format")
	}
	return parts[1], nil
}

// GetPrincipal extracts the Principal from a Fiber context.
func GetPrincipal(c *fiber.Ctx) *metadata.Principal {
	p, _ := c.Locals("principal").(*metadata.Principal)
	return p
}
