package server

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gavelworks/bidhouse/bidhouse/identity"
	"github.com/gavelworks/bidhouse/bidhouse/logger"
)

const accountLocal = "account"

// LoggingMiddleware logs HTTP requests in a structured format
func LoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		attrs := []any{slog.String("ip", GetIPAddress(c))}
		if account := AccountFromContext(c); account != nil {
			attrs = append(attrs, slog.String("account_id", account.ID))
		}
		logger.LogRequest(c.Method(), c.Path(), c.Response().StatusCode(),
			time.Since(start), err, attrs...)

		return err
	}
}

// AuthRequired resolves the bearer token and stores the account in the
// request context.
func AuthRequired(resolver identity.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return SendUnauthorized(c, "Authentication required")
		}

		account, err := resolver.Resolve(token)
		if err != nil {
			slog.Debug("Auth required: unknown token", slog.String("ip", GetIPAddress(c)))
			return SendUnauthorized(c, "Invalid token")
		}

		c.Locals(accountLocal, account)
		return c.Next()
	}
}

// AdminRequired ensures the resolved account has admin privileges. Must
// run after AuthRequired.
func AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		account := AccountFromContext(c)
		if account == nil {
			slog.Warn("Admin required: no account in context")
			return SendForbidden(c, "Access denied")
		}
		if !account.Admin {
			slog.Warn("Admin required: account lacks admin privileges",
				slog.String("account_id", account.ID))
			return SendForbidden(c, "Admin access required")
		}
		return c.Next()
	}
}

// AccountFromContext extracts the resolved account from the Fiber context
func AccountFromContext(c *fiber.Ctx) *identity.Account {
	account, _ := c.Locals(accountLocal).(*identity.Account)
	return account
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
