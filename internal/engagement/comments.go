package engagement

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/repository"
)

// CommentManager creates, edits, deletes, and lists comments for a session.
type CommentManager struct {
	e    *Engine
	repo repository.CommentRepository
}

type CreateCommentInput struct {
	PostID          uint
	UserID          uint
	Content         string
	ParentCommentID *uint
}

type UpdateCommentInput struct {
	CommentID uint
	UserID    uint
	Content   string
}

type DeleteCommentInput struct {
	CommentID uint
	PostID    uint
	UserID    uint
}

// ListOptions pages a newest-first listing. Before is the CreatedAt of the
// last comment of the previous page.
type ListOptions struct {
	Limit  int
	Before *time.Time
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", models.NewValidationError("Content is required")
	}
	if utf8.RuneCountInString(content) > maxCommentLen {
		return "", models.NewValidationError("Comment too long (max 10000 characters)")
	}
	return content, nil
}

// Create stores a comment. A reply to a reply is attached to the top-level
// ancestor. Author enrichment failures degrade to the unknown identity and
// never fail the call. The top-level count is recounted and that value, not
// a local increment, is what gets announced.
func (m *CommentManager) Create(ctx context.Context, in CreateCommentInput) (comment *models.Comment, err error) {
	ctx, span := observability.GetTraceLayer().TraceEngineOperation(ctx, "comments", "create", in.PostID)
	defer func() { observability.EndSpan(span, err) }()

	if in.UserID == 0 {
		return nil, models.NewUnauthorizedError("Sign in to comment")
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	if err := m.e.svc.postExists(ctx, in.PostID); err != nil {
		return nil, err
	}
	parentID, err := m.resolveParent(ctx, in.PostID, in.ParentCommentID)
	if err != nil {
		return nil, err
	}

	comment = &models.Comment{
		PostID:          in.PostID,
		UserID:          in.UserID,
		Content:         content,
		ParentCommentID: parentID,
	}
	if err := m.repo.Create(ctx, comment); err != nil {
		return nil, models.NewWriteFailedError("create comment", err)
	}
	comment.Author = m.e.svc.author(ctx, in.UserID)

	if comment.IsTopLevel() {
		m.e.cache.PrependComment(in.PostID, comment)
	}
	m.recount(ctx, in.PostID)
	m.e.publishComment(ctx, models.EventInsert, comment)
	return comment, nil
}

func (m *CommentManager) resolveParent(ctx context.Context, postID uint, parentID *uint) (*uint, error) {
	if parentID == nil {
		return nil, nil
	}
	parent, err := m.repo.GetByID(ctx, *parentID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return nil, models.NewValidationError("Parent comment not found")
		}
		return nil, err
	}
	if parent.PostID != postID {
		return nil, models.NewValidationError("Parent comment belongs to a different post")
	}
	root := parent.ID
	if parent.ParentCommentID != nil {
		root = *parent.ParentCommentID
	}
	return &root, nil
}

// recount refreshes the cached top-level count from source and announces it.
func (m *CommentManager) recount(ctx context.Context, postID uint) {
	n, err := m.repo.CountTopLevel(ctx, postID)
	if err != nil {
		m.e.cache.InvalidateCount(postID, models.FieldComments)
		observability.GlobalLogger.WarnContext(ctx, "comment recount failed",
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
		return
	}
	m.e.cache.SetCount(postID, models.FieldComments, n)
	m.e.announce(ctx, postID, models.FieldComments, n)
}

// Update replaces the content of one of the caller's comments.
func (m *CommentManager) Update(ctx context.Context, in UpdateCommentInput) (*models.Comment, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	existing, err := m.repo.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != in.UserID {
		return nil, models.NewUnauthorizedError("You can only update your own comments")
	}

	updated, err := m.repo.UpdateContent(ctx, in.CommentID, content)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return nil, err
		}
		return nil, models.NewWriteFailedError("update comment", err)
	}
	updated.Author = m.e.svc.author(ctx, updated.UserID)

	m.e.cache.ReplaceComment(updated.PostID, updated)
	m.e.publishComment(ctx, models.EventUpdate, updated)
	return updated, nil
}

// Delete removes a comment and its replies. A comment that is already gone is
// a success. Only the author or an admin may delete.
func (m *CommentManager) Delete(ctx context.Context, in DeleteCommentInput) (ok bool, err error) {
	ctx, span := observability.GetTraceLayer().TraceEngineOperation(ctx, "comments", "delete", in.PostID)
	defer func() { observability.EndSpan(span, err) }()

	existing, err := m.repo.GetByID(ctx, in.CommentID)
	if err != nil {
		if models.ErrorCode(err) != models.CodeNotFound {
			return false, err
		}
		observability.ConflictsSatisfied.WithLabelValues("comment", "delete").Inc()
		if in.PostID != 0 {
			m.e.cache.RemoveComment(in.PostID, in.CommentID)
			m.recount(ctx, in.PostID)
		}
		return true, nil
	}
	if in.PostID != 0 && existing.PostID != in.PostID {
		return false, models.NewNotFoundError("Comment", in.CommentID)
	}

	if existing.UserID != in.UserID {
		admin, err := m.e.svc.isAdmin(ctx, in.UserID)
		if err != nil {
			return false, err
		}
		if !admin {
			return false, models.NewUnauthorizedError("You can only delete your own comments")
		}
	}

	removed, err := m.repo.Delete(ctx, in.CommentID)
	if err != nil {
		return false, models.NewWriteFailedError("delete comment", err)
	}
	if !removed {
		observability.ConflictsSatisfied.WithLabelValues("comment", "delete").Inc()
	}

	m.e.cache.RemoveComment(existing.PostID, existing.ID)
	m.recount(ctx, existing.PostID)
	m.e.publishComment(ctx, models.EventDelete, existing)
	return true, nil
}

// ListTopLevel returns a newest-first page of top-level comments. The default
// first page is served from the session cache when fresh.
func (m *CommentManager) ListTopLevel(ctx context.Context, postID uint, opts ListOptions) (*models.CommentPage, error) {
	pageSize := m.e.svc.opts.CommentPageSize
	limit := clampLimit(opts.Limit, pageSize)
	cacheable := opts.Before == nil && limit == pageSize

	if cacheable {
		if list, more, ok := m.e.cache.CommentPage(postID); ok {
			return pageOf(list, limit, more), nil
		}
	}

	list, err := m.repo.ListTopLevel(ctx, postID, limit, opts.Before)
	if err != nil {
		return nil, err
	}
	m.e.svc.enrich(ctx, list)
	// only a short page from the store means the end
	more := len(list) >= limit
	if cacheable {
		m.e.cache.SetComments(postID, list, more)
	}
	return pageOf(list, limit, more), nil
}

// pageOf trims list to limit. Local inserts can push a cached page past
// limit, which also means there is more.
func pageOf(list []*models.Comment, limit int, more bool) *models.CommentPage {
	page := &models.CommentPage{Comments: list}
	if len(list) > limit {
		page.Comments = list[:limit]
	}
	page.HasMore = more || len(list) > limit
	if page.HasMore && len(page.Comments) > 0 {
		cursor := page.Comments[len(page.Comments)-1].CreatedAt
		page.NextCursor = &cursor
	}
	if page.Comments == nil {
		page.Comments = []*models.Comment{}
	}
	return page
}

// ListReplies returns up to limit replies of parentID, oldest first.
func (m *CommentManager) ListReplies(ctx context.Context, parentID uint, limit int) ([]*models.Comment, error) {
	limit = clampLimit(limit, m.e.svc.opts.ReplyPageSize)
	list, err := m.repo.ListReplies(ctx, parentID, limit)
	if err != nil {
		return nil, err
	}
	m.e.svc.enrich(ctx, list)
	if list == nil {
		list = []*models.Comment{}
	}
	return list, nil
}

// GetCount returns the number of top-level comments on postID.
func (m *CommentManager) GetCount(ctx context.Context, postID uint) (int64, error) {
	if n, ok := m.e.cache.Count(postID, models.FieldComments); ok {
		return n, nil
	}
	n, err := m.repo.CountTopLevel(ctx, postID)
	if err != nil {
		return 0, err
	}
	m.e.cache.SetCount(postID, models.FieldComments, n)
	return n, nil
}

// BatchGetCounts returns the top-level comment count of each post, querying
// only the posts without a fresh cached count.
func (m *CommentManager) BatchGetCounts(ctx context.Context, postIDs []uint) (map[uint]int64, error) {
	ids := dedupe(postIDs)
	out := make(map[uint]int64, len(ids))

	var missing []uint
	for _, id := range ids {
		if n, ok := m.e.cache.Count(id, models.FieldComments); ok {
			out[id] = n
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	counts, err := m.repo.CountTopLevelByPosts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		out[id] = counts[id]
		m.e.cache.SetCount(id, models.FieldComments, counts[id])
	}
	return out, nil
}

// BatchGetReplyCounts maps each comment id to its number of replies.
func (m *CommentManager) BatchGetReplyCounts(ctx context.Context, commentIDs []uint) (map[uint]int64, error) {
	ids := dedupe(commentIDs)
	if len(ids) == 0 {
		return map[uint]int64{}, nil
	}
	return m.repo.ReplyCounts(ctx, ids)
}
