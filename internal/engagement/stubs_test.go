package engagement

import (
	"context"
	"sync"
	"time"

	"troodie/internal/models"
)

// reactionRepoStub is a stub for repository.ReactionRepository.
type reactionRepoStub struct {
	existsFn        func(context.Context, uint, uint) (bool, error)
	addFn           func(context.Context, uint, uint) (bool, error)
	removeFn        func(context.Context, uint, uint) (bool, error)
	countFn         func(context.Context, uint) (int64, error)
	countByPostsFn  func(context.Context, []uint) (map[uint]int64, error)
	activePostIDsFn func(context.Context, uint, []uint) ([]uint, error)
}

func (s *reactionRepoStub) Exists(ctx context.Context, userID, postID uint) (bool, error) {
	return s.existsFn(ctx, userID, postID)
}
func (s *reactionRepoStub) Add(ctx context.Context, userID, postID uint) (bool, error) {
	return s.addFn(ctx, userID, postID)
}
func (s *reactionRepoStub) Remove(ctx context.Context, userID, postID uint) (bool, error) {
	return s.removeFn(ctx, userID, postID)
}
func (s *reactionRepoStub) Count(ctx context.Context, postID uint) (int64, error) {
	return s.countFn(ctx, postID)
}
func (s *reactionRepoStub) CountByPosts(ctx context.Context, postIDs []uint) (map[uint]int64, error) {
	return s.countByPostsFn(ctx, postIDs)
}
func (s *reactionRepoStub) ActivePostIDs(ctx context.Context, userID uint, postIDs []uint) ([]uint, error) {
	return s.activePostIDsFn(ctx, userID, postIDs)
}

func noopReactionRepo() *reactionRepoStub {
	return &reactionRepoStub{
		existsFn: func(context.Context, uint, uint) (bool, error) { return false, nil },
		addFn:    func(context.Context, uint, uint) (bool, error) { return true, nil },
		removeFn: func(context.Context, uint, uint) (bool, error) { return true, nil },
		countFn:  func(context.Context, uint) (int64, error) { return 0, nil },
		countByPostsFn: func(_ context.Context, ids []uint) (map[uint]int64, error) {
			return zeroCounts(ids), nil
		},
		activePostIDsFn: func(context.Context, uint, []uint) ([]uint, error) { return nil, nil },
	}
}

// commentRepoStub is a stub for repository.CommentRepository.
type commentRepoStub struct {
	createFn               func(context.Context, *models.Comment) error
	getByIDFn              func(context.Context, uint) (*models.Comment, error)
	updateContentFn        func(context.Context, uint, string) (*models.Comment, error)
	deleteFn               func(context.Context, uint) (bool, error)
	listTopLevelFn         func(context.Context, uint, int, *time.Time) ([]*models.Comment, error)
	listRepliesFn          func(context.Context, uint, int) ([]*models.Comment, error)
	countTopLevelFn        func(context.Context, uint) (int64, error)
	countTopLevelByPostsFn func(context.Context, []uint) (map[uint]int64, error)
	replyCountsFn          func(context.Context, []uint) (map[uint]int64, error)
}

func (s *commentRepoStub) Create(ctx context.Context, c *models.Comment) error {
	return s.createFn(ctx, c)
}
func (s *commentRepoStub) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	return s.getByIDFn(ctx, id)
}
func (s *commentRepoStub) UpdateContent(ctx context.Context, id uint, content string) (*models.Comment, error) {
	return s.updateContentFn(ctx, id, content)
}
func (s *commentRepoStub) Delete(ctx context.Context, id uint) (bool, error) {
	return s.deleteFn(ctx, id)
}
func (s *commentRepoStub) ListTopLevel(ctx context.Context, postID uint, limit int, before *time.Time) ([]*models.Comment, error) {
	return s.listTopLevelFn(ctx, postID, limit, before)
}
func (s *commentRepoStub) ListReplies(ctx context.Context, parentID uint, limit int) ([]*models.Comment, error) {
	return s.listRepliesFn(ctx, parentID, limit)
}
func (s *commentRepoStub) CountTopLevel(ctx context.Context, postID uint) (int64, error) {
	return s.countTopLevelFn(ctx, postID)
}
func (s *commentRepoStub) CountTopLevelByPosts(ctx context.Context, postIDs []uint) (map[uint]int64, error) {
	return s.countTopLevelByPostsFn(ctx, postIDs)
}
func (s *commentRepoStub) ReplyCounts(ctx context.Context, parentIDs []uint) (map[uint]int64, error) {
	return s.replyCountsFn(ctx, parentIDs)
}

func noopCommentRepo() *commentRepoStub {
	return &commentRepoStub{
		createFn: func(_ context.Context, c *models.Comment) error {
			c.ID = 1
			return nil
		},
		getByIDFn: func(_ context.Context, id uint) (*models.Comment, error) {
			return nil, models.NewNotFoundError("Comment", id)
		},
		updateContentFn: func(_ context.Context, id uint, content string) (*models.Comment, error) {
			return &models.Comment{ID: id, Content: content}, nil
		},
		deleteFn: func(context.Context, uint) (bool, error) { return true, nil },
		listTopLevelFn: func(context.Context, uint, int, *time.Time) ([]*models.Comment, error) {
			return nil, nil
		},
		listRepliesFn:   func(context.Context, uint, int) ([]*models.Comment, error) { return nil, nil },
		countTopLevelFn: func(context.Context, uint) (int64, error) { return 0, nil },
		countTopLevelByPostsFn: func(_ context.Context, ids []uint) (map[uint]int64, error) {
			return zeroCounts(ids), nil
		},
		replyCountsFn: func(_ context.Context, ids []uint) (map[uint]int64, error) {
			return zeroCounts(ids), nil
		},
	}
}

// shareRepoStub is a stub for repository.ShareRepository.
type shareRepoStub struct {
	recordFn       func(context.Context, *models.Share) error
	countFn        func(context.Context, uint) (int64, error)
	countByPostsFn func(context.Context, []uint) (map[uint]int64, error)
}

func (s *shareRepoStub) Record(ctx context.Context, share *models.Share) error {
	return s.recordFn(ctx, share)
}
func (s *shareRepoStub) Count(ctx context.Context, postID uint) (int64, error) {
	return s.countFn(ctx, postID)
}
func (s *shareRepoStub) CountByPosts(ctx context.Context, postIDs []uint) (map[uint]int64, error) {
	return s.countByPostsFn(ctx, postIDs)
}

func noopShareRepo() *shareRepoStub {
	return &shareRepoStub{
		recordFn: func(context.Context, *models.Share) error { return nil },
		countFn:  func(context.Context, uint) (int64, error) { return 0, nil },
		countByPostsFn: func(_ context.Context, ids []uint) (map[uint]int64, error) {
			return zeroCounts(ids), nil
		},
	}
}

// postRepoStub is a stub for repository.PostRepository.
type postRepoStub struct {
	existsFn func(context.Context, uint) (bool, error)
}

func (s *postRepoStub) GetByID(_ context.Context, id uint) (*models.Post, error) {
	return &models.Post{ID: id}, nil
}
func (s *postRepoStub) Exists(ctx context.Context, id uint) (bool, error) {
	return s.existsFn(ctx, id)
}
func (s *postRepoStub) Create(context.Context, *models.Post) error { return nil }
func (s *postRepoStub) ListIDs(context.Context, int) ([]uint, error) {
	return nil, nil
}

func noopPostRepo() *postRepoStub {
	return &postRepoStub{existsFn: func(context.Context, uint) (bool, error) { return true, nil }}
}

// authorStub is a stub for IdentityResolver.
type authorStub struct {
	getAuthorFn  func(context.Context, uint) (models.Author, error)
	getAuthorsFn func(context.Context, []uint) (map[uint]models.Author, error)
}

func (s *authorStub) GetAuthor(ctx context.Context, id uint) (models.Author, error) {
	return s.getAuthorFn(ctx, id)
}
func (s *authorStub) GetAuthors(ctx context.Context, ids []uint) (map[uint]models.Author, error) {
	return s.getAuthorsFn(ctx, ids)
}

func namedAuthor(id uint) models.Author {
	return models.Author{UserID: id, Name: "user"}
}

func noopAuthors() *authorStub {
	return &authorStub{
		getAuthorFn: func(_ context.Context, id uint) (models.Author, error) { return namedAuthor(id), nil },
		getAuthorsFn: func(_ context.Context, ids []uint) (map[uint]models.Author, error) {
			out := make(map[uint]models.Author, len(ids))
			for _, id := range ids {
				out[id] = namedAuthor(id)
			}
			return out, nil
		},
	}
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu       sync.Mutex
	comments []models.CommentEvent
	stats    []models.StatsEvent
	err      error
}

func (p *recordingPublisher) PublishComment(_ context.Context, _ uint, ev models.CommentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comments = append(p.comments, ev)
	return p.err
}

func (p *recordingPublisher) PublishStats(_ context.Context, ev models.StatsEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, ev)
	return p.err
}

func (p *recordingPublisher) statsEvents() []models.StatsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StatsEvent(nil), p.stats...)
}

func (p *recordingPublisher) commentEvents() []models.CommentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.CommentEvent(nil), p.comments...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func zeroCounts(ids []uint) map[uint]int64 {
	out := make(map[uint]int64, len(ids))
	for _, id := range ids {
		out[id] = 0
	}
	return out
}

func noopStore() Store {
	return Store{
		Likes:    noopReactionRepo(),
		Saves:    noopReactionRepo(),
		Comments: noopCommentRepo(),
		Shares:   noopShareRepo(),
		Posts:    noopPostRepo(),
		Authors:  noopAuthors(),
	}
}

type testEnv struct {
	engine *Engine
	pub    *recordingPublisher
	clock  *fakeClock
}

func newTestEnv(store Store, opts Options) testEnv {
	pub := &recordingPublisher{}
	clock := newFakeClock()
	if opts.Publisher == nil {
		opts.Publisher = pub
	}
	opts.Now = clock.Now
	return testEnv{
		engine: NewService(store, opts).NewEngine("session-a"),
		pub:    pub,
		clock:  clock,
	}
}
