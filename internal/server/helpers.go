package server

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"troodie/internal/engagement"
	"troodie/internal/middleware"
	"troodie/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const maxBatchIDs = 100

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// The error message is derived from the parameter name (e.g. "id" -> "Invalid ID",
// "commentId" -> "Invalid comment ID").
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseIDList validates a batch of ids from a request body.
func parseIDList(c *fiber.Ctx, ids []uint, field string) error {
	if len(ids) > maxBatchIDs {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Too many "+field))
		return errResponseWritten
	}
	for _, id := range ids {
		if id == 0 {
			_ = models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid "+field))
			return errResponseWritten
		}
	}
	return nil
}

// humanizeParam converts a route param name into a human-readable label.
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch models.ErrorCode(err) {
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeUnauthorized:
		return fiber.StatusForbidden
	case models.CodeWriteFailed:
		return fiber.StatusServiceUnavailable
	case models.CodeStaleView:
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func respondErr(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewInternalError(err)
	}
	return models.RespondWithError(c, statusFor(err), err)
}

// engineFor returns the caller's session engine, creating the session when the
// X-Session-ID header (or session_id query for websockets) is absent or unknown.
// The effective id is echoed back in the response header.
func (s *Server) engineFor(c *fiber.Ctx) *engagement.Engine {
	requested := c.Get(middleware.SessionHeader)
	if requested == "" {
		requested = c.Query("session_id")
	}
	id, engine := s.sessions.Acquire(requested)
	c.Set(middleware.SessionHeader, id)
	c.SetUserContext(context.WithValue(c.UserContext(), middleware.SessionIDKey, id))
	return engine
}

// isAdmin checks whether the given user has admin privileges.
func (s *Server) isAdmin(c *fiber.Ctx, userID uint) (bool, error) {
	return s.isAdminByUserID(c.Context(), userID)
}

func (s *Server) isAdminByUserID(ctx context.Context, userID uint) (bool, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("is_admin").First(&user, userID).Error; err != nil {
		return false, err
	}
	return user.IsAdmin, nil
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		admin, err := s.isAdmin(c, middleware.ViewerID(c))
		if err != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		}
		if !admin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewUnauthorizedError("Admin access required"))
		}
		return c.Next()
	}
}
