// Package engagement keeps like, comment, save, and share counts and the
// viewer's like/save flags consistent across optimistic local writes,
// authoritative recounts, and realtime change events.
//
// A Service holds the collaborators shared by the whole process. Each viewing
// session gets its own Engine with a private StatsCache; nothing cached is
// shared between sessions.
package engagement

import (
	"context"
	"log/slog"
	"time"

	"troodie/internal/cache"
	"troodie/internal/featureflags"
	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/realtime"
	"troodie/internal/repository"
)

const (
	defaultCommentPageSize = 20
	defaultReplyPageSize   = 10
	maxPageSize            = 100
	maxCommentLen          = 10000
	defaultShareBaseURL    = "https://troodie.app"
)

// IdentityResolver returns author display data.
type IdentityResolver interface {
	GetAuthor(ctx context.Context, userID uint) (models.Author, error)
	GetAuthors(ctx context.Context, userIDs []uint) (map[uint]models.Author, error)
}

// Publisher announces changes to other sessions.
type Publisher interface {
	PublishComment(ctx context.Context, postID uint, ev models.CommentEvent) error
	PublishStats(ctx context.Context, ev models.StatsEvent) error
}

// Store is the data-store boundary the engine reads and writes through.
type Store struct {
	Likes    repository.ReactionRepository
	Saves    repository.ReactionRepository
	Comments repository.CommentRepository
	Shares   repository.ShareRepository
	Posts    repository.PostRepository
	Authors  IdentityResolver
}

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	TTL             time.Duration
	Now             func() time.Time
	CommentPageSize int
	ReplyPageSize   int
	ShareBaseURL    string
	Flags           *featureflags.Manager
	IsAdmin         func(ctx context.Context, userID uint) (bool, error)
	Publisher       Publisher
	Feed            realtime.Feed
}

// Service builds per-session engines over shared collaborators.
type Service struct {
	store Store
	opts  Options
}

// NewService creates a new Service
func NewService(store Store, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultStatsTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CommentPageSize <= 0 {
		opts.CommentPageSize = defaultCommentPageSize
	}
	if opts.ReplyPageSize <= 0 {
		opts.ReplyPageSize = defaultReplyPageSize
	}
	if opts.ShareBaseURL == "" {
		opts.ShareBaseURL = defaultShareBaseURL
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	return &Service{store: store, opts: opts}
}

// NewEngine returns an engine for one viewing session. sessionID tags the
// events it publishes so the feed can skip echoing them back.
func (s *Service) NewEngine(sessionID string) *Engine {
	e := &Engine{
		svc:    s,
		origin: sessionID,
		cache:  cache.NewStatsCache(s.opts.TTL, s.opts.Now),
		views:  make(map[*realtime.CommentView]struct{}),
	}
	e.Likes = newReactionManager(e, models.ReactionLike, s.store.Likes)
	e.Saves = newReactionManager(e, models.ReactionSave, s.store.Saves)
	e.Comments = &CommentManager{e: e, repo: s.store.Comments}
	e.Shares = &ShareManager{e: e, repo: s.store.Shares}
	return e
}

func (s *Service) isAdmin(ctx context.Context, userID uint) (bool, error) {
	if s.opts.IsAdmin == nil {
		return false, nil
	}
	return s.opts.IsAdmin(ctx, userID)
}

// postExists is permissive when no post repository is wired.
func (s *Service) postExists(ctx context.Context, postID uint) error {
	if s.store.Posts == nil {
		return nil
	}
	ok, err := s.store.Posts.Exists(ctx, postID)
	if err != nil {
		return models.NewInternalError(err)
	}
	if !ok {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

func (s *Service) author(ctx context.Context, userID uint) models.Author {
	if s.store.Authors == nil {
		return models.UnknownAuthor(userID)
	}
	author, err := s.store.Authors.GetAuthor(ctx, userID)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "author lookup failed, using placeholder identity",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
		return models.UnknownAuthor(userID)
	}
	return author
}

// enrich fills Author on every comment and reply with one batched lookup.
func (s *Service) enrich(ctx context.Context, list []*models.Comment) {
	if len(list) == 0 {
		return
	}
	var ids []uint
	for _, c := range list {
		ids = append(ids, c.UserID)
		for _, r := range c.Replies {
			ids = append(ids, r.UserID)
		}
	}

	var authors map[uint]models.Author
	if s.store.Authors != nil {
		var err error
		authors, err = s.store.Authors.GetAuthors(ctx, dedupe(ids))
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "batch author lookup failed, using placeholder identities",
				slog.Int("authors", len(ids)),
				slog.String("error", err.Error()),
			)
		}
	}

	set := func(c *models.Comment) {
		if a, ok := authors[c.UserID]; ok {
			c.Author = a
			return
		}
		c.Author = models.UnknownAuthor(c.UserID)
	}
	for _, c := range list {
		set(c)
		for _, r := range c.Replies {
			set(r)
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishComment(context.Context, uint, models.CommentEvent) error { return nil }
func (noopPublisher) PublishStats(context.Context, models.StatsEvent) error          { return nil }

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxPageSize)
}
