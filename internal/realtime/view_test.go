package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"troodie/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu           sync.Mutex
	handlers     []func(models.CommentEvent)
	filters      []Filter
	unsubscribed int
	err          error
}

func (f *fakeFeed) Subscribe(_ context.Context, filter Filter, handler func(models.CommentEvent)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handlers = append(f.handlers, handler)
	f.filters = append(f.filters, filter)
	return OnceSubscription(func() error {
		f.mu.Lock()
		f.unsubscribed++
		f.mu.Unlock()
		return nil
	}), nil
}

// emit delivers ev to the latest handler, even after it was unsubscribed, the
// way a late in-flight message would arrive.
func (f *fakeFeed) emit(ev models.CommentEvent) {
	f.emitTo(-1, ev)
}

func (f *fakeFeed) emitTo(i int, ev models.CommentEvent) {
	f.mu.Lock()
	if i < 0 {
		i = len(f.handlers) - 1
	}
	h := f.handlers[i]
	f.mu.Unlock()
	h(ev)
}

func (f *fakeFeed) unsubscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

type authorStub struct {
	getAuthorFn func(context.Context, uint) (models.Author, error)
}

func (s *authorStub) GetAuthor(ctx context.Context, userID uint) (models.Author, error) {
	return s.getAuthorFn(ctx, userID)
}

func namedAuthors() *authorStub {
	return &authorStub{getAuthorFn: func(_ context.Context, id uint) (models.Author, error) {
		return models.Author{UserID: id, Name: "user"}, nil
	}}
}

func uintPtr(v uint) *uint { return &v }

func row(id, postID uint, parent *uint) models.Comment {
	return models.Comment{
		ID:              id,
		PostID:          postID,
		UserID:          7,
		Content:         "comment",
		ParentCommentID: parent,
		CreatedAt:       time.Date(2026, 1, 1, 0, int(id), 0, 0, time.UTC),
	}
}

func staticPage(rows ...models.Comment) PageLoader {
	return func(_ context.Context, _ uint) ([]*models.Comment, error) {
		out := make([]*models.Comment, len(rows))
		for i := range rows {
			out[i] = rows[i].Clone()
		}
		return out, nil
	}
}

func insertEvent(c models.Comment) models.CommentEvent {
	return models.CommentEvent{Type: models.EventInsert, Comment: c}
}

func ids(list []*models.Comment) []uint {
	out := make([]uint, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func mountedView(t *testing.T, feed *fakeFeed, handlers Handlers, page ...models.Comment) *CommentView {
	t.Helper()
	v := NewCommentView(ViewConfig{
		Feed:     feed,
		Load:     staticPage(page...),
		Authors:  namedAuthors(),
		Origin:   "session-a",
		Handlers: handlers,
	})
	require.NoError(t, v.Mount(context.Background(), 1))
	t.Cleanup(v.Close)
	return v
}

func TestCommentView_MountHydratesThenGoesLive(t *testing.T) {
	feed := &fakeFeed{}
	v := NewCommentView(ViewConfig{Feed: feed, Load: staticPage(row(2, 1, nil), row(1, 1, nil)), Origin: "session-a"})
	assert.Equal(t, StateIdle, v.State())

	require.NoError(t, v.Mount(context.Background(), 1))
	defer v.Close()

	assert.Equal(t, StateLive, v.State())
	assert.Equal(t, []uint{2, 1}, ids(v.Snapshot()))
	require.Len(t, feed.filters, 1)
	assert.Equal(t, Filter{PostID: 1, ExcludeOrigin: "session-a"}, feed.filters[0])
}

func TestCommentView_LoadFailureReturnsToIdle(t *testing.T) {
	feed := &fakeFeed{}
	loadErr := errors.New("timeout")
	v := NewCommentView(ViewConfig{Feed: feed, Load: func(context.Context, uint) ([]*models.Comment, error) {
		return nil, loadErr
	}})

	err := v.Mount(context.Background(), 1)
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, StateIdle, v.State())
	assert.Empty(t, feed.filters, "no subscription before the page resolves")
}

func TestCommentView_InsertDedupesSeenIDs(t *testing.T) {
	feed := &fakeFeed{}
	var inserted atomic.Int32
	v := mountedView(t, feed, Handlers{OnInsert: func(*models.Comment) { inserted.Add(1) }}, row(1, 1, nil))

	feed.emit(insertEvent(row(1, 1, nil)))
	feed.emit(insertEvent(row(3, 1, nil)))
	feed.emit(insertEvent(row(3, 1, nil)))

	assert.Equal(t, []uint{3, 1}, ids(v.Snapshot()))
	assert.Equal(t, int32(1), inserted.Load())
	assert.Equal(t, "user", v.Snapshot()[0].Author.Name)
}

func TestCommentView_IgnoresOtherPosts(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{})

	feed.emit(insertEvent(row(5, 2, nil)))
	assert.Empty(t, v.Snapshot())
}

func TestCommentView_OwnEchoAfterConfirmIsNoop(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{}, row(1, 1, nil))

	stored := row(10, 1, nil)
	got, err := v.Submit(context.Background(), Draft{UserID: 7, Content: "comment"}, func(context.Context) (*models.Comment, error) {
		snap := v.Snapshot()
		require.Len(t, snap, 2)
		assert.True(t, snap[0].IsPlaceholder(), "placeholder is visible before the write resolves")
		return stored.Clone(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint(10), got.ID)

	echo := insertEvent(stored)
	echo.Origin = "session-a"
	feed.emit(echo)

	snap := v.Snapshot()
	assert.Equal(t, []uint{10, 1}, ids(snap))
	for _, c := range snap {
		assert.False(t, c.IsPlaceholder())
	}
}

func TestCommentView_EchoBeforeConfirmKeepsOneCopy(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{})

	p, err := v.BeginOptimistic(Draft{UserID: 7, Content: "comment"})
	require.NoError(t, err)

	stored := row(10, 1, nil)
	feed.emit(insertEvent(stored))
	require.NoError(t, v.ConfirmOptimistic(p.TempID, stored.Clone()))

	snap := v.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint(10), snap[0].ID)
	assert.Empty(t, snap[0].TempID)
}

func TestCommentView_FailOptimisticRemovesPlaceholder(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{}, row(1, 1, nil))

	writeErr := models.NewWriteFailedError("create comment", errors.New("conn reset"))
	_, err := v.Submit(context.Background(), Draft{UserID: 7, Content: "x"}, func(context.Context) (*models.Comment, error) {
		return nil, writeErr
	})
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, []uint{1}, ids(v.Snapshot()))
}

func TestCommentView_OptimisticReplyAttachesToParent(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{}, row(1, 1, nil))

	p, err := v.BeginOptimistic(Draft{UserID: 7, Content: "reply", ParentCommentID: uintPtr(1)})
	require.NoError(t, err)
	require.Len(t, v.Snapshot()[0].Replies, 1)

	require.NoError(t, v.ConfirmOptimistic(p.TempID, &models.Comment{ID: 2, PostID: 1, ParentCommentID: uintPtr(1)}))
	replies := v.Snapshot()[0].Replies
	require.Len(t, replies, 1)
	assert.Equal(t, uint(2), replies[0].ID)
}

func TestCommentView_ReplyEvents(t *testing.T) {
	feed := &fakeFeed{}
	var inserted atomic.Int32
	v := mountedView(t, feed, Handlers{OnInsert: func(*models.Comment) { inserted.Add(1) }}, row(1, 1, nil))

	feed.emit(insertEvent(row(2, 1, uintPtr(1))))
	feed.emit(insertEvent(row(3, 1, uintPtr(99))))

	snap := v.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []uint{2}, ids(snap[0].Replies))
	assert.Equal(t, int32(1), inserted.Load(), "reply to an unseen parent is dropped")

	v.mu.Lock()
	_, orphanSeen := v.seen[3]
	v.mu.Unlock()
	assert.False(t, orphanSeen)
}

func TestCommentView_DeleteRemovesEverywhere(t *testing.T) {
	top := row(1, 1, nil)
	top.Replies = []*models.Comment{{ID: 2, PostID: 1, ParentCommentID: uintPtr(1)}}
	feed := &fakeFeed{}
	var deleted []uint
	v := mountedView(t, feed, Handlers{OnDelete: func(id uint) { deleted = append(deleted, id) }}, top, row(3, 1, nil))

	feed.emit(models.CommentEvent{Type: models.EventDelete, Comment: models.Comment{ID: 2, PostID: 1}})
	assert.Empty(t, v.Snapshot()[0].Replies)

	feed.emit(models.CommentEvent{Type: models.EventDelete, Comment: models.Comment{ID: 1, PostID: 1}})
	assert.Equal(t, []uint{3}, ids(v.Snapshot()))
	assert.Equal(t, []uint{2, 1}, deleted)

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.NotContains(t, v.seen, uint(1))
	assert.NotContains(t, v.seen, uint(2))
}

func TestCommentView_UpdateReplacesInPlace(t *testing.T) {
	top := row(1, 1, nil)
	top.Replies = []*models.Comment{{ID: 2, PostID: 1, ParentCommentID: uintPtr(1), Content: "old"}}
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{}, top)

	edited := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	feed.emit(models.CommentEvent{Type: models.EventUpdate, Comment: models.Comment{ID: 2, PostID: 1, Content: "new", UpdatedAt: edited}})
	feed.emit(models.CommentEvent{Type: models.EventUpdate, Comment: models.Comment{ID: 1, PostID: 1, Content: "top"}})
	feed.emit(models.CommentEvent{Type: models.EventUpdate, Comment: models.Comment{ID: 42, PostID: 1, Content: "ghost"}})

	snap := v.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "top", snap[0].Content)
	assert.Equal(t, "new", snap[0].Replies[0].Content)
	assert.Equal(t, edited, snap[0].Replies[0].UpdatedAt)
}

func TestCommentView_AuthorFailureFallsBackToUnknown(t *testing.T) {
	feed := &fakeFeed{}
	v := NewCommentView(ViewConfig{
		Feed: feed,
		Load: staticPage(),
		Authors: &authorStub{getAuthorFn: func(context.Context, uint) (models.Author, error) {
			return models.Author{}, errors.New("users table unavailable")
		}},
	})
	require.NoError(t, v.Mount(context.Background(), 1))
	defer v.Close()

	feed.emit(insertEvent(row(4, 1, nil)))

	snap := v.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Author.IsUnknown())
}

func TestCommentView_LookupAfterCloseIsDropped(t *testing.T) {
	feed := &fakeFeed{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var inserted atomic.Int32
	v := NewCommentView(ViewConfig{
		Feed: feed,
		Load: staticPage(),
		Authors: &authorStub{getAuthorFn: func(context.Context, uint) (models.Author, error) {
			close(entered)
			<-release
			return models.Author{Name: "late"}, nil
		}},
		Handlers: Handlers{OnInsert: func(*models.Comment) { inserted.Add(1) }},
	})
	require.NoError(t, v.Mount(context.Background(), 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.emit(insertEvent(row(4, 1, nil)))
	}()

	<-entered
	v.Close()
	close(release)
	<-done

	assert.Equal(t, StateClosed, v.State())
	assert.Empty(t, v.Snapshot())
	assert.Zero(t, inserted.Load())
	assert.Equal(t, 1, feed.unsubscribes())
}

func TestCommentView_RemountDropsPreviousGeneration(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{}, row(1, 1, nil))

	require.NoError(t, v.Mount(context.Background(), 2))
	assert.Equal(t, uint(2), v.PostID())
	assert.Equal(t, 1, feed.unsubscribes())

	// late event on the first subscription
	feed.emitTo(0, insertEvent(row(9, 1, nil)))
	// the page loader is shared, so post 2 shows the same fixture rows
	feed.emit(insertEvent(row(1, 2, nil)))

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.NotContains(t, v.seen, uint(9))
	assert.Len(t, v.comments, 1)
}

func TestCommentView_ConfirmAfterCloseIsStale(t *testing.T) {
	feed := &fakeFeed{}
	v := mountedView(t, feed, Handlers{})

	p, err := v.BeginOptimistic(Draft{UserID: 7, Content: "x"})
	require.NoError(t, err)
	v.Close()

	err = v.ConfirmOptimistic(p.TempID, &models.Comment{ID: 5, PostID: 1})
	assert.ErrorIs(t, err, models.ErrStaleView)
	assert.ErrorIs(t, v.Mount(context.Background(), 1), models.ErrStaleView)

	_, err = v.BeginOptimistic(Draft{UserID: 7, Content: "y"})
	assert.ErrorIs(t, err, models.ErrStaleView)
}

func TestCommentView_SubscribeFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("redis down")}
	v := NewCommentView(ViewConfig{Feed: feed, Load: staticPage(row(1, 1, nil))})

	err := v.Mount(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, StateIdle, v.State())
}
