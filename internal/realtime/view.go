package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"troodie/internal/models"
	"troodie/internal/observability"

	"github.com/google/uuid"
)

// State is the lifecycle position of a CommentView.
type State int

const (
	StateIdle State = iota
	StateHydrating
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHydrating:
		return "hydrating"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PageLoader fetches the initial newest-first page of top-level comments.
type PageLoader func(ctx context.Context, postID uint) ([]*models.Comment, error)

// AuthorResolver looks up display identity for a user.
type AuthorResolver interface {
	GetAuthor(ctx context.Context, userID uint) (models.Author, error)
}

// Handlers are called after a feed event has been merged into the view.
// They run outside the view lock and receive copies.
type Handlers struct {
	OnInsert func(*models.Comment)
	OnUpdate func(*models.Comment)
	OnDelete func(commentID uint)
}

// ViewConfig wires a CommentView to its collaborators.
type ViewConfig struct {
	Feed    Feed
	Load    PageLoader
	Authors AuthorResolver
	// Origin is the session id of the viewer. The feed is asked not to echo
	// events with this origin.
	Origin   string
	Handlers Handlers
	Now      func() time.Time
}

// Draft is a comment the viewer is submitting.
type Draft struct {
	UserID          uint
	Content         string
	ParentCommentID *uint
	Author          models.Author
}

// CommentView is the visible comment state of one post for one viewer.
//
// Every mutation happens under mu and is tagged with the generation that
// scheduled it. Mount and Close bump the generation, so work started for an
// earlier mount (a page load, an author lookup, a pending submission) finds
// its generation gone and is dropped with ErrStaleView.
type CommentView struct {
	cfg ViewConfig

	mu       sync.Mutex
	state    State
	postID   uint
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	sub      Subscription
	seen     map[uint]struct{}
	comments []*models.Comment
	pending  map[string]uint64
}

// NewCommentView returns an idle view.
func NewCommentView(cfg ViewConfig) *CommentView {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CommentView{
		cfg:     cfg,
		seen:    make(map[uint]struct{}),
		pending: make(map[string]uint64),
	}
}

// State returns the current lifecycle state.
func (v *CommentView) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// PostID returns the mounted post, or 0.
func (v *CommentView) PostID() uint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.postID
}

// Snapshot returns a deep copy of the visible comments, newest first.
func (v *CommentView) Snapshot() []*models.Comment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return models.CloneComments(v.comments)
}

// Mount loads the first page of postID and then subscribes to its feed.
// Mounting again (same or different post) discards everything from the
// previous mount, including its seen set.
func (v *CommentView) Mount(ctx context.Context, postID uint) error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return models.ErrStaleView
	}
	prev := v.resetLocked(ctx, postID)
	gen := v.gen
	viewCtx := v.ctx
	v.state = StateHydrating
	v.mu.Unlock()

	if prev != nil {
		_ = prev.Unsubscribe()
	}

	page, err := v.cfg.Load(viewCtx, postID)
	if err != nil {
		v.mu.Lock()
		if v.currentLocked(gen) {
			v.state = StateIdle
		}
		v.mu.Unlock()
		return fmt.Errorf("load comments for post %d: %w", postID, err)
	}

	v.mu.Lock()
	if !v.currentLocked(gen) {
		v.mu.Unlock()
		return models.ErrStaleView
	}
	v.mergePageLocked(page)
	v.mu.Unlock()

	filter := Filter{PostID: postID, ExcludeOrigin: v.cfg.Origin}
	sub, err := v.cfg.Feed.Subscribe(viewCtx, filter, func(ev models.CommentEvent) {
		v.apply(gen, ev)
	})
	if err != nil {
		v.mu.Lock()
		if v.currentLocked(gen) {
			v.state = StateIdle
		}
		v.mu.Unlock()
		return fmt.Errorf("subscribe to post %d: %w", postID, err)
	}

	v.mu.Lock()
	if !v.currentLocked(gen) {
		v.mu.Unlock()
		_ = sub.Unsubscribe()
		return models.ErrStaleView
	}
	v.sub = sub
	v.state = StateLive
	v.mu.Unlock()
	return nil
}

// Close unsubscribes and drops all state. Anything still in flight for this
// view becomes a no-op. Close is idempotent.
func (v *CommentView) Close() {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return
	}
	sub := v.resetLocked(context.Background(), 0)
	v.cancel()
	v.state = StateClosed
	v.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// resetLocked starts a new generation and returns the previous subscription
// for the caller to cancel outside the lock.
func (v *CommentView) resetLocked(parent context.Context, postID uint) Subscription {
	if v.cancel != nil {
		v.cancel()
	}
	v.gen++
	v.postID = postID
	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(parent))
	v.seen = make(map[uint]struct{})
	v.comments = nil
	v.pending = make(map[string]uint64)
	prev := v.sub
	v.sub = nil
	return prev
}

func (v *CommentView) currentLocked(gen uint64) bool {
	return v.gen == gen && v.state != StateClosed
}

// mergePageLocked appends a loaded page behind whatever is already visible
// (placeholders submitted while hydrating) and marks every id seen.
func (v *CommentView) mergePageLocked(page []*models.Comment) {
	for _, c := range page {
		if _, dup := v.seen[c.ID]; dup {
			continue
		}
		row := c.Clone()
		v.seen[row.ID] = struct{}{}
		for _, r := range row.Replies {
			v.seen[r.ID] = struct{}{}
		}
		v.comments = append(v.comments, row)
	}
}

func (v *CommentView) apply(gen uint64, ev models.CommentEvent) {
	switch ev.Type {
	case models.EventInsert:
		v.applyInsert(gen, ev.Comment)
	case models.EventUpdate:
		v.applyUpdate(gen, ev.Comment)
	case models.EventDelete:
		v.applyDelete(gen, ev.Comment.ID)
	default:
		observability.RealtimeEvents.WithLabelValues(string(ev.Type), "unknown").Inc()
	}
}

func record(event models.CommentEventType, outcome string) {
	observability.RealtimeEvents.WithLabelValues(string(event), outcome).Inc()
}

func (v *CommentView) applyInsert(gen uint64, c models.Comment) {
	row := c.Clone()
	row.TempID = ""
	row.Replies = nil

	v.mu.Lock()
	if !v.currentLocked(gen) {
		v.mu.Unlock()
		record(models.EventInsert, "stale")
		return
	}
	if row.ID == 0 || row.PostID != v.postID {
		v.mu.Unlock()
		record(models.EventInsert, "ignored")
		return
	}
	if _, dup := v.seen[row.ID]; dup {
		v.mu.Unlock()
		record(models.EventInsert, "duplicate")
		return
	}
	v.seen[row.ID] = struct{}{}
	ctx := v.ctx
	v.mu.Unlock()

	if row.Author.Name == "" {
		row.Author = v.resolveAuthor(ctx, row.UserID)
	}

	v.mu.Lock()
	if !v.currentLocked(gen) {
		v.mu.Unlock()
		record(models.EventInsert, "stale")
		return
	}
	if _, still := v.seen[row.ID]; !still {
		// deleted while the author was being resolved
		v.mu.Unlock()
		record(models.EventInsert, "deleted")
		return
	}
	if !v.insertLocked(row) {
		delete(v.seen, row.ID)
		v.mu.Unlock()
		record(models.EventInsert, "orphan")
		return
	}
	out := row.Clone()
	v.mu.Unlock()

	record(models.EventInsert, "applied")
	if h := v.cfg.Handlers.OnInsert; h != nil {
		h(out)
	}
}

func (v *CommentView) resolveAuthor(ctx context.Context, userID uint) models.Author {
	if v.cfg.Authors == nil {
		return models.UnknownAuthor(userID)
	}
	author, err := v.cfg.Authors.GetAuthor(ctx, userID)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "resolve_comment_author", err, map[string]interface{}{
			"user_id": userID,
		})
		return models.UnknownAuthor(userID)
	}
	return author
}

func (v *CommentView) applyUpdate(gen uint64, c models.Comment) {
	v.mu.Lock()
	if !v.currentLocked(gen) {
		v.mu.Unlock()
		record(models.EventUpdate, "stale")
		return
	}
	var updated *models.Comment
	v.eachLocked(func(existing *models.Comment) {
		if existing.ID == c.ID {
			existing.Content = c.Content
			existing.UpdatedAt = c.UpdatedAt
			updated = existing.Clone()
		}
	})
	v.mu.Unlock()

	if updated == nil {
		record(models.EventUpdate, "ignored")
		return
	}
	record(models.EventUpdate, "applied")
	if h := v.cfg.Handlers.OnUpdate; h != nil {
		h(updated)
	}
}

func (v *CommentView) applyDelete(gen uint64, id uint) {
	v.mu.Lock()
	if !v.currentLocked(gen) {
		v.mu.Unlock()
		record(models.EventDelete, "stale")
		return
	}
	delete(v.seen, id)
	v.removeLocked(func(c *models.Comment) bool { return c.ID == id })
	v.mu.Unlock()

	record(models.EventDelete, "applied")
	if h := v.cfg.Handlers.OnDelete; h != nil {
		h(id)
	}
}

// BeginOptimistic shows a placeholder for d immediately. A reply whose parent
// is not on screen gets a placeholder that is tracked but not visible.
func (v *CommentView) BeginOptimistic(d Draft) (*models.Comment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateIdle || v.state == StateClosed {
		return nil, models.ErrStaleView
	}
	now := v.cfg.Now()
	p := &models.Comment{
		TempID:          uuid.NewString(),
		PostID:          v.postID,
		UserID:          d.UserID,
		Content:         d.Content,
		ParentCommentID: d.ParentCommentID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Author:          d.Author,
	}
	v.insertLocked(p)
	v.pending[p.TempID] = v.gen
	return p.Clone(), nil
}

// ConfirmOptimistic replaces placeholder tempID with the stored row. When the
// feed delivered the same row first, the placeholder is simply removed.
func (v *CommentView) ConfirmOptimistic(tempID string, confirmed *models.Comment) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	gen, ok := v.pending[tempID]
	if !ok || !v.currentLocked(gen) {
		return models.ErrStaleView
	}
	delete(v.pending, tempID)

	key := (&models.Comment{TempID: tempID}).Key()
	if _, dup := v.seen[confirmed.ID]; dup {
		v.removeLocked(func(c *models.Comment) bool { return c.Key() == key })
		return nil
	}

	row := confirmed.Clone()
	row.TempID = ""
	v.seen[row.ID] = struct{}{}
	if !v.replaceKeyLocked(key, row) {
		if !v.insertLocked(row) {
			delete(v.seen, row.ID)
		}
	}
	return nil
}

// FailOptimistic removes placeholder tempID.
func (v *CommentView) FailOptimistic(tempID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.pending, tempID)
	key := (&models.Comment{TempID: tempID}).Key()
	v.removeLocked(func(c *models.Comment) bool { return c.Key() == key })
}

// Submit runs write between BeginOptimistic and Confirm/FailOptimistic. A view
// that went stale while write was in flight does not turn a stored comment
// into an error.
func (v *CommentView) Submit(ctx context.Context, d Draft, write func(context.Context) (*models.Comment, error)) (*models.Comment, error) {
	p, err := v.BeginOptimistic(d)
	if err != nil {
		return nil, err
	}
	stored, err := write(ctx)
	if err != nil {
		v.FailOptimistic(p.TempID)
		return nil, err
	}
	if err := v.ConfirmOptimistic(p.TempID, stored); err != nil && !errors.Is(err, models.ErrStaleView) {
		return nil, err
	}
	return stored, nil
}

// insertLocked prepends a top-level comment or appends a reply to its
// top-level ancestor. It reports false when the parent is not visible.
func (v *CommentView) insertLocked(c *models.Comment) bool {
	if c.IsTopLevel() {
		v.comments = append([]*models.Comment{c}, v.comments...)
		return true
	}
	parent := v.topLevelOfLocked(*c.ParentCommentID)
	if parent == nil {
		return false
	}
	parent.Replies = append(parent.Replies, c)
	return true
}

func (v *CommentView) topLevelOfLocked(id uint) *models.Comment {
	for _, top := range v.comments {
		if top.ID == id {
			return top
		}
		for _, r := range top.Replies {
			if r.ID == id {
				return top
			}
		}
	}
	return nil
}

func (v *CommentView) eachLocked(fn func(*models.Comment)) {
	for _, top := range v.comments {
		fn(top)
		for _, r := range top.Replies {
			fn(r)
		}
	}
}

func (v *CommentView) removeLocked(match func(*models.Comment) bool) {
	kept := v.comments[:0]
	for _, top := range v.comments {
		if match(top) {
			continue
		}
		replies := top.Replies[:0]
		for _, r := range top.Replies {
			if !match(r) {
				replies = append(replies, r)
			}
		}
		top.Replies = replies
		kept = append(kept, top)
	}
	v.comments = kept
}

func (v *CommentView) replaceKeyLocked(key string, row *models.Comment) bool {
	for i, top := range v.comments {
		if top.Key() == key {
			row.Replies = top.Replies
			v.comments[i] = row
			return true
		}
		for j, r := range top.Replies {
			if r.Key() == key {
				top.Replies[j] = row
				return true
			}
		}
	}
	return false
}
