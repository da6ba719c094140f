// Package middleware provides authentication, logging, tracing, rate limiting
// and metrics middleware for the HTTP surface.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"troodie/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingToken  = errors.New("Authorization header required")
	errBadAuthFormat = errors.New("Invalid authorization header format")
	errBadToken      = errors.New("Invalid or expired token")
	errBadSubject    = errors.New("Invalid token subject")
)

// viewerFromToken verifies an HS256 token and returns the user id in its "sub" claim.
// Tokens are issued elsewhere; this service only verifies them.
func viewerFromToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, errBadToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, errBadSubject
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return 0, errBadSubject
	}
	return uint(id), nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errBadAuthFormat
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err)
	}
	userID, err := viewerFromToken(token)
	if err != nil {
		return unauthorized(c, err)
	}
	c.Locals("userID", userID)
	return c.Next()
}

// OptionalAuth sets userID when a valid bearer token is present and lets
// anonymous viewers through. A token that is present but invalid is rejected.
func OptionalAuth(c *fiber.Ctx) error {
	if c.Get("Authorization") == "" {
		return c.Next()
	}
	return AuthRequired(c)
}

// WebSocketAuthRequired validates the token from the query string (browsers
// cannot set headers on websocket upgrades) and falls back to the header.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		var err error
		if token, err = bearerToken(c); err != nil {
			return unauthorized(c, err)
		}
	}
	userID, err := viewerFromToken(token)
	if err != nil {
		return unauthorized(c, err)
	}
	c.Locals("userID", userID)
	return c.Next()
}

// ViewerID returns the authenticated user id, or 0 for anonymous requests.
func ViewerID(c *fiber.Ctx) uint {
	if id, ok := c.Locals("userID").(uint); ok {
		return id
	}
	return 0
}

// OptionalWebSocketAuth lets anonymous viewers open a stream but still rejects
// a token that is present and invalid.
func OptionalWebSocketAuth(c *fiber.Ctx) error {
	if c.Query("token") == "" && c.Get("Authorization") == "" {
		return c.Next()
	}
	return WebSocketAuthRequired(c)
}
