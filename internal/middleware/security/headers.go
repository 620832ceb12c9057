package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// HSTS is off for plain-HTTP development servers.
	HSTS bool
	// AllowedOrigins are echoed back on CORS requests; empty means none.
	AllowedOrigins []string
}

// HeadersMiddleware sets response headers for a JSON-only API. Bundles carry
// patient-facing text, so responses are never stored by shared caches.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderXFrameOptions, "DENY")
		c.Set(fiber.HeaderReferrerPolicy, "no-referrer")
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Set(fiber.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")

		if cfg.HSTS {
			c.Set(fiber.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		}

		if origin := c.Get(fiber.HeaderOrigin); origin != "" && (allowed["*"] || allowed[origin]) {
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
		}

		return c.Next()
	}
}
