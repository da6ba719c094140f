package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"troodie/internal/cache"
	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/realtime"

	"golang.org/x/sync/errgroup"
)

// Engine is the engagement facade of one viewing session.
type Engine struct {
	svc    *Service
	origin string
	cache  *cache.StatsCache

	Likes    *ReactionManager
	Saves    *ReactionManager
	Comments *CommentManager
	Shares   *ShareManager

	mu     sync.Mutex
	views  map[*realtime.CommentView]struct{}
	closed bool
}

// Origin is the session id stamped on published events.
func (e *Engine) Origin() string {
	return e.origin
}

// Cache exposes the session cache.
func (e *Engine) Cache() *cache.StatsCache {
	return e.cache
}

// Reaction returns the manager for kind.
func (e *Engine) Reaction(kind models.ReactionKind) *ReactionManager {
	if kind == models.ReactionSave {
		return e.Saves
	}
	return e.Likes
}

// GetStats returns the engagement stats of postID. Counts come from the cache
// when every field is fresh, otherwise all four are recounted in parallel.
// Viewer flags are resolved only when viewerID is non-zero.
func (e *Engine) GetStats(ctx context.Context, postID, viewerID uint) (stats models.EngagementStats, err error) {
	ctx, span := observability.GetTraceLayer().TraceEngineOperation(ctx, "facade", "get_stats", postID)
	defer func() { observability.EndSpan(span, err) }()

	cached, fresh := e.cache.Get(postID)

	g, gctx := errgroup.WithContext(ctx)
	counts := make([]int64, len(models.StatsFields))
	if !fresh {
		for i, field := range models.StatsFields {
			i, field := i, field
			g.Go(func() error {
				n, err := e.countFromSource(gctx, field, postID)
				if err != nil {
					return fmt.Errorf("count %s: %w", field, err)
				}
				counts[i] = n
				return nil
			})
		}
	}

	var liked, saved bool
	if viewerID != 0 {
		g.Go(func() (err error) {
			liked, err = e.Likes.IsActive(gctx, postID, viewerID)
			return err
		})
		g.Go(func() (err error) {
			saved, err = e.Saves.IsActive(gctx, postID, viewerID)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return models.EngagementStats{}, models.NewInternalError(err)
	}

	stats = cached
	if !fresh {
		stats = models.EngagementStats{PostID: postID}
		for i, field := range models.StatsFields {
			stats = stats.WithCount(field, counts[i])
		}
		e.cache.Set(postID, stats)
	}
	if viewerID != 0 {
		stats.IsLikedByUser = models.BoolPtr(liked)
		stats.IsSavedByUser = models.BoolPtr(saved)
	}
	return stats, nil
}

func (e *Engine) countFromSource(ctx context.Context, field models.StatsField, postID uint) (int64, error) {
	st := e.svc.store
	switch field {
	case models.FieldLikes:
		return st.Likes.Count(ctx, postID)
	case models.FieldComments:
		return st.Comments.CountTopLevel(ctx, postID)
	case models.FieldSaves:
		return st.Saves.Count(ctx, postID)
	case models.FieldShares:
		return st.Shares.Count(ctx, postID)
	}
	return 0, fmt.Errorf("unknown stats field %q", field)
}

// BatchGetStats returns stats for every post in postIDs. Posts with fresh
// cached counts are not queried; the rest cost one grouped query per count
// category, plus one membership query per viewer flag.
func (e *Engine) BatchGetStats(ctx context.Context, postIDs []uint, viewerID uint) (out map[uint]models.EngagementStats, err error) {
	ctx, span := observability.GetTraceLayer().TraceEngineOperation(ctx, "facade", "batch_get_stats", 0)
	defer func() { observability.EndSpan(span, err) }()

	ids := dedupe(postIDs)
	out = make(map[uint]models.EngagementStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var missing []uint
	for _, id := range ids {
		if stats, ok := e.cache.Get(id); ok {
			out[id] = stats
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		st := e.svc.store
		var likes, comments, saves, shares map[uint]int64
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			likes, err = st.Likes.CountByPosts(gctx, missing)
			return err
		})
		g.Go(func() (err error) {
			comments, err = st.Comments.CountTopLevelByPosts(gctx, missing)
			return err
		})
		g.Go(func() (err error) {
			saves, err = st.Saves.CountByPosts(gctx, missing)
			return err
		})
		g.Go(func() (err error) {
			shares, err = st.Shares.CountByPosts(gctx, missing)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, models.NewInternalError(err)
		}

		for _, id := range missing {
			stats := models.EngagementStats{
				PostID:        id,
				LikesCount:    likes[id],
				CommentsCount: comments[id],
				SavesCount:    saves[id],
				ShareCount:    shares[id],
			}
			e.cache.Set(id, stats)
			out[id] = stats
		}
	}

	if viewerID == 0 {
		return out, nil
	}

	var liked, saved map[uint]bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		liked, err = e.Likes.BatchIsActive(gctx, ids, viewerID)
		return err
	})
	g.Go(func() (err error) {
		saved, err = e.Saves.BatchIsActive(gctx, ids, viewerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, id := range ids {
		stats := out[id]
		stats.IsLikedByUser = models.BoolPtr(liked[id])
		stats.IsSavedByUser = models.BoolPtr(saved[id])
		out[id] = stats
	}
	return out, nil
}

// Invalidate forgets everything cached about postID. Use it when the post's
// engagement rows were changed outside this engine, e.g. by moderation.
func (e *Engine) Invalidate(postID uint) {
	e.cache.Invalidate(postID)
}

// SubscribeToComments mounts a live comment view of postID. The handlers see
// every reconciled insert, update, and delete until Unsubscribe or Close.
func (e *Engine) SubscribeToComments(ctx context.Context, postID uint, handlers realtime.Handlers) (*realtime.CommentView, error) {
	feed := e.svc.opts.Feed
	if feed == nil {
		return nil, models.NewInternalError(errors.New("realtime feed not configured"))
	}

	view := realtime.NewCommentView(realtime.ViewConfig{
		Feed: feed,
		Load: func(ctx context.Context, postID uint) ([]*models.Comment, error) {
			page, err := e.Comments.ListTopLevel(ctx, postID, ListOptions{})
			if err != nil {
				return nil, err
			}
			return page.Comments, nil
		},
		Authors:  e.svc.store.Authors,
		Origin:   e.origin,
		Handlers: handlers,
		Now:      e.svc.opts.Now,
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, models.ErrStaleView
	}
	e.views[view] = struct{}{}
	e.mu.Unlock()

	if err := view.Mount(ctx, postID); err != nil {
		e.Unsubscribe(view)
		return nil, err
	}
	return view, nil
}

// Unsubscribe closes view and forgets it.
func (e *Engine) Unsubscribe(view *realtime.CommentView) {
	e.mu.Lock()
	delete(e.views, view)
	e.mu.Unlock()
	view.Close()
}

// Active reports whether the engine still backs a mounted comment view.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && len(e.views) > 0
}

// SubmitComment creates a comment through view, showing a placeholder until
// the write resolves.
func (e *Engine) SubmitComment(ctx context.Context, view *realtime.CommentView, in CreateCommentInput) (*models.Comment, error) {
	draft := realtime.Draft{
		UserID:          in.UserID,
		Content:         in.Content,
		ParentCommentID: in.ParentCommentID,
		Author:          e.svc.author(ctx, in.UserID),
	}
	return view.Submit(ctx, draft, func(ctx context.Context) (*models.Comment, error) {
		return e.Comments.Create(ctx, in)
	})
}

// Close tears the session down: every live view is closed and the cache is
// dropped. Later subscriptions fail with ErrStaleView.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	views := e.views
	e.views = make(map[*realtime.CommentView]struct{})
	e.mu.Unlock()

	for view := range views {
		view.Close()
	}
	e.cache.Clear()
}

// announce publishes an authoritative recount. Delivery is best effort.
func (e *Engine) announce(ctx context.Context, postID uint, field models.StatsField, count int64) {
	ev := models.StatsEvent{PostID: postID, Field: field, Count: count, Origin: e.origin}
	if err := e.svc.opts.Publisher.PublishStats(ctx, ev); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish stats event",
			slog.Uint64("post_id", uint64(postID)),
			slog.String("field", string(field)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publishComment(ctx context.Context, typ models.CommentEventType, c *models.Comment) {
	ev := models.CommentEvent{Type: typ, Origin: e.origin, Comment: *c.Clone()}
	ev.Comment.Replies = nil
	if err := e.svc.opts.Publisher.PublishComment(ctx, c.PostID, ev); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish comment event",
			slog.Uint64("post_id", uint64(c.PostID)),
			slog.Uint64("comment_id", uint64(c.ID)),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
