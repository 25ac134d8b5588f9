// Package middleware holds the HTTP middleware of the admin API.
package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
)

// AdminOnly validates a Bearer JWT and requires its subject to be one of
// the configured admin user ids. With no secret configured the API runs
// open, which is the development default.
func AdminOnly(cfg config.AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Secret == "" {
			return c.Next()
		}

		tokenString := ExtractBearerToken(c.Get("Authorization"))
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		subject, err := token.Claims.GetSubject()
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "token has no subject",
			})
		}
		userID, err := strconv.ParseInt(subject, 10, 64)
		if err != nil || !isAdmin(cfg.AdminUserIDs, userID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not an admin",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

func isAdmin(admins []int64, userID int64) bool {
	for _, id := range admins {
		if id == userID {
			return true
		}
	}
	return false
}

// UserID returns the authenticated user id, or 0 for unauthenticated
// (open-mode) requests.
func UserID(c *fiber.Ctx) int64 {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// ExtractBearerToken extracts the bearer token from the Authorization header.
func ExtractBearerToken(authHeader string) string {
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}
