package server

import (
	"context"
	"strings"

	"troodie/internal/engagement"
	"troodie/internal/middleware"
	"troodie/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetPostStats returns the engagement stats of a post (public; flags need a viewer)
func (s *Server) GetPostStats(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	stats, err := s.engineFor(c).GetStats(c.UserContext(), postID, middleware.ViewerID(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(stats)
}

// BatchGetPostStats returns stats for many posts at once
func (s *Server) BatchGetPostStats(c *fiber.Ctx) error {
	var req struct {
		PostIDs []uint `json:"post_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if err := parseIDList(c, req.PostIDs, "post_ids"); err != nil {
		return nil
	}

	stats, err := s.engineFor(c).BatchGetStats(c.UserContext(), req.PostIDs, middleware.ViewerID(c))
	if err != nil {
		return respondErr(c, err)
	}

	// JSON object keys must be strings; keep the ids ordered as requested.
	out := make([]models.EngagementStats, 0, len(stats))
	seen := make(map[uint]bool, len(stats))
	for _, id := range req.PostIDs {
		if st, ok := stats[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, st)
		}
	}
	return c.JSON(fiber.Map{"stats": out})
}

type toggleResponse struct {
	Optimistic *models.ToggleResult `json:"optimistic,omitempty"`
	Result     models.ToggleResult  `json:"result"`
	Error      string               `json:"error,omitempty"`
	Code       string               `json:"code,omitempty"`
}

// ToggleLike flips the caller's like on a post
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	return s.toggle(c, models.ReactionLike)
}

// ToggleSave flips the caller's save on a post
func (s *Server) ToggleSave(c *fiber.Ctx) error {
	return s.toggle(c, models.ReactionSave)
}

func (s *Server) toggle(c *fiber.Ctx, kind models.ReactionKind) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var resp toggleResponse
	mgr := s.engineFor(c).Reaction(kind)
	res, err := mgr.Toggle(c.UserContext(), postID, middleware.ViewerID(c), func(opt models.ToggleResult) {
		resp.Optimistic = &opt
	})
	resp.Result = res
	if err != nil {
		// The rolled-back state is returned alongside the error.
		resp.Error = err.Error()
		resp.Code = models.ErrorCode(err)
		return c.Status(statusFor(err)).JSON(resp)
	}
	return c.JSON(resp)
}

// reportedSheet is the share sheet as seen from the server: the client already
// showed its native sheet and reports which target the user picked.
type reportedSheet struct {
	platform string
}

func (r reportedSheet) Present(context.Context, engagement.ShareContent) (string, error) {
	return r.platform, nil
}

// linkCollector captures the link the engine copies so it can be returned to
// the client, which writes it to the real clipboard.
type linkCollector struct {
	text string
}

func (l *linkCollector) WriteText(_ context.Context, text string) error {
	l.text = text
	return nil
}

// SharePost records a completed native share of a post
func (s *Server) SharePost(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Platform string `json:"platform"`
		Title    string `json:"title"`
		Message  string `json:"message"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
		}
	}

	res, err := s.engineFor(c).Shares.Share(c.UserContext(), postID, middleware.ViewerID(c),
		engagement.ShareMetadata{Title: req.Title, Message: req.Message},
		reportedSheet{platform: strings.ToLower(strings.TrimSpace(req.Platform))})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(res)
}

// CopyLink records a copy-link share and returns the link to copy
func (s *Server) CopyLink(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	clip := &linkCollector{}
	ok, err := s.engineFor(c).Shares.CopyLink(c.UserContext(), postID, middleware.ViewerID(c), clip)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"success": ok, "url": clip.text})
}

// InvalidateEngagement drops cached stats for a post in the caller's session and
// forces a recount (admin only, used after moderation)
func (s *Server) InvalidateEngagement(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	engine := s.engineFor(c)
	engine.Invalidate(postID)
	stats, err := engine.GetStats(c.UserContext(), postID, 0)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(stats)
}
