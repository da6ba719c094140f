package server

import (
	"time"

	"troodie/internal/engagement"
	"troodie/internal/middleware"
	"troodie/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListComments returns a newest-first page of a post's top-level comments (public)
func (s *Server) ListComments(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	opts := engagement.ListOptions{Limit: c.QueryInt("limit", 0)}
	if raw := c.Query("before"); raw != "" {
		before, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid before cursor"))
		}
		opts.Before = &before
	}

	page, err := s.engineFor(c).Comments.ListTopLevel(c.UserContext(), postID, opts)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(page)
}

// ListReplies returns the replies of a top-level comment, oldest first (public)
func (s *Server) ListReplies(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	replies, err := s.engineFor(c).Comments.ListReplies(c.UserContext(), commentID, c.QueryInt("limit", 0))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"replies": replies})
}

// GetCommentCount returns the number of top-level comments on a post
func (s *Server) GetCommentCount(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	n, err := s.engineFor(c).Comments.GetCount(c.UserContext(), postID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"post_id": postID, "count": n})
}

// GetReplyCounts returns reply counts for a batch of comments
func (s *Server) GetReplyCounts(c *fiber.Ctx) error {
	var req struct {
		CommentIDs []uint `json:"comment_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if err := parseIDList(c, req.CommentIDs, "comment_ids"); err != nil {
		return nil
	}

	counts, err := s.engineFor(c).Comments.BatchGetReplyCounts(c.UserContext(), req.CommentIDs)
	if err != nil {
		return respondErr(c, err)
	}

	type replyCount struct {
		CommentID uint  `json:"comment_id"`
		Count     int64 `json:"count"`
	}
	out := make([]replyCount, 0, len(req.CommentIDs))
	for _, id := range req.CommentIDs {
		out = append(out, replyCount{CommentID: id, Count: counts[id]})
	}
	return c.JSON(fiber.Map{"counts": out})
}

// CreateComment creates a comment or reply on a post (protected)
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content         string `json:"content"`
		ParentCommentID *uint  `json:"parent_comment_id"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}

	created, err := s.engineFor(c).Comments.Create(c.UserContext(), engagement.CreateCommentInput{
		PostID:          postID,
		UserID:          middleware.ViewerID(c),
		Content:         req.Content,
		ParentCommentID: req.ParentCommentID,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateComment edits a comment (owner only)
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}

	updated, err := s.engineFor(c).Comments.Update(c.UserContext(), engagement.UpdateCommentInput{
		CommentID: commentID,
		UserID:    middleware.ViewerID(c),
		Content:   req.Content,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(updated)
}

// DeleteComment deletes a comment and its replies (owner or admin)
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	commentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}

	ok, err := s.engineFor(c).Comments.Delete(c.UserContext(), engagement.DeleteCommentInput{
		CommentID: commentID,
		PostID:    postID,
		UserID:    middleware.ViewerID(c),
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"success": ok})
}
