package engagement

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"troodie/internal/models"
	"troodie/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingStore(counts map[models.StatsField]int64, calls *atomic.Int32) Store {
	count := func(f models.StatsField) func(context.Context, uint) (int64, error) {
		return func(context.Context, uint) (int64, error) {
			calls.Add(1)
			return counts[f], nil
		}
	}
	store := noopStore()
	likes := noopReactionRepo()
	likes.countFn = count(models.FieldLikes)
	saves := noopReactionRepo()
	saves.countFn = count(models.FieldSaves)
	comments := noopCommentRepo()
	comments.countTopLevelFn = count(models.FieldComments)
	shares := noopShareRepo()
	shares.countFn = count(models.FieldShares)
	store.Likes, store.Saves, store.Comments, store.Shares = likes, saves, comments, shares
	return store
}

func TestGetStats_CachesUntilTTL(t *testing.T) {
	var calls atomic.Int32
	store := countingStore(map[models.StatsField]int64{
		models.FieldLikes: 3, models.FieldComments: 2, models.FieldSaves: 1, models.FieldShares: 9,
	}, &calls)
	env := newTestEnv(store, Options{TTL: time.Minute})
	ctx := context.Background()

	stats, err := env.engine.GetStats(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, models.EngagementStats{PostID: 1, LikesCount: 3, CommentsCount: 2, SavesCount: 1, ShareCount: 9}, stats)
	assert.Equal(t, int32(4), calls.Load())

	_, err = env.engine.GetStats(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load(), "fresh cache is not requeried")

	env.clock.Advance(time.Minute)
	_, err = env.engine.GetStats(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(8), calls.Load(), "expired entry forces a recount")
}

func TestGetStats_ViewerFlags(t *testing.T) {
	store := noopStore()
	likes := noopReactionRepo()
	likes.existsFn = func(_ context.Context, userID, _ uint) (bool, error) { return userID == 7, nil }
	store.Likes = likes
	env := newTestEnv(store, Options{})

	stats, err := env.engine.GetStats(context.Background(), 1, 7)
	require.NoError(t, err)
	require.NotNil(t, stats.IsLikedByUser)
	require.NotNil(t, stats.IsSavedByUser)
	assert.True(t, *stats.IsLikedByUser)
	assert.False(t, *stats.IsSavedByUser)

	anon, err := env.engine.GetStats(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Nil(t, anon.IsLikedByUser)
}

func TestGetStats_SourceErrorCachesNothing(t *testing.T) {
	store := noopStore()
	shares := noopShareRepo()
	shares.countFn = func(context.Context, uint) (int64, error) { return 0, errors.New("timeout") }
	store.Shares = shares
	env := newTestEnv(store, Options{})

	_, err := env.engine.GetStats(context.Background(), 1, 0)
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))
	assert.True(t, env.engine.Cache().IsStale(1))
}

func TestBatchGetStats_GroupedQueries(t *testing.T) {
	store := noopStore()
	var batches atomic.Int32
	likes := noopReactionRepo()
	likes.countByPostsFn = func(_ context.Context, ids []uint) (map[uint]int64, error) {
		batches.Add(1)
		return map[uint]int64{1: 2, 2: 0, 3: 5}, nil
	}
	likes.activePostIDsFn = func(context.Context, uint, []uint) ([]uint, error) {
		batches.Add(1)
		return []uint{3}, nil
	}
	store.Likes = likes
	env := newTestEnv(store, Options{})

	got, err := env.engine.BatchGetStats(context.Background(), []uint{1, 2, 3}, 7)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(5), got[3].LikesCount)
	assert.True(t, *got[3].IsLikedByUser)
	assert.False(t, *got[1].IsLikedByUser)
	assert.False(t, *got[2].IsSavedByUser)
	assert.Equal(t, int32(2), batches.Load())

	again, err := env.engine.BatchGetStats(context.Background(), []uint{1, 2, 3}, 7)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, int32(2), batches.Load(), "fully cached")

	empty, err := env.engine.BatchGetStats(context.Background(), nil, 7)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInvalidate_ForcesRecount(t *testing.T) {
	var calls atomic.Int32
	store := countingStore(map[models.StatsField]int64{}, &calls)
	env := newTestEnv(store, Options{})
	ctx := context.Background()

	_, err := env.engine.GetStats(ctx, 1, 0)
	require.NoError(t, err)
	env.engine.Cache().SetFlag(models.ReactionLike, 1, 7, true)

	env.engine.Invalidate(1)

	_, ok := env.engine.Cache().Flag(models.ReactionLike, 1, 7)
	assert.False(t, ok)
	_, err = env.engine.GetStats(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(8), calls.Load())
}

func TestSubscribeToComments_MergesOtherSessions(t *testing.T) {
	broker := realtime.NewBroker()
	repo := noopCommentRepo()
	var nextID atomic.Uint32
	repo.createFn = func(_ context.Context, c *models.Comment) error {
		c.ID = uint(nextID.Add(1))
		return nil
	}
	store := noopStore()
	store.Comments = repo
	svc := NewService(store, Options{Publisher: broker, Feed: broker})

	viewer := svc.NewEngine("session-a")
	writer := svc.NewEngine("session-b")
	defer viewer.Close()
	defer writer.Close()

	inserted := make(chan *models.Comment, 4)
	view, err := viewer.SubscribeToComments(context.Background(), 1, realtime.Handlers{
		OnInsert: func(c *models.Comment) { inserted <- c },
	})
	require.NoError(t, err)
	assert.Equal(t, realtime.StateLive, view.State())

	_, err = writer.Comments.Create(context.Background(), CreateCommentInput{PostID: 1, UserID: 9, Content: "from b"})
	require.NoError(t, err)

	select {
	case c := <-inserted:
		assert.Equal(t, "from b", c.Content)
	case <-time.After(time.Second):
		t.Fatal("insert from another session never arrived")
	}

	own, err := viewer.SubmitComment(context.Background(), view, CreateCommentInput{PostID: 1, UserID: 7, Content: "mine"})
	require.NoError(t, err)

	assert.Never(t, func() bool { return len(inserted) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"own writes are not echoed")
	snap := view.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, own.ID, snap[0].ID)
	assert.False(t, snap[0].IsPlaceholder())
}

func TestEngineClose_TearsDownViews(t *testing.T) {
	broker := realtime.NewBroker()
	svc := NewService(noopStore(), Options{Feed: broker})
	e := svc.NewEngine("session-a")

	view, err := e.SubscribeToComments(context.Background(), 1, realtime.Handlers{})
	require.NoError(t, err)
	e.Cache().SetCount(1, models.FieldLikes, 3)

	e.Close()
	assert.Equal(t, realtime.StateClosed, view.State())
	_, ok := e.Cache().Count(1, models.FieldLikes)
	assert.False(t, ok)

	_, err = e.SubscribeToComments(context.Background(), 1, realtime.Handlers{})
	assert.ErrorIs(t, err, models.ErrStaleView)
}

func TestSubscribeToComments_NoFeed(t *testing.T) {
	env := newTestEnv(noopStore(), Options{})
	_, err := env.engine.SubscribeToComments(context.Background(), 1, realtime.Handlers{})
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))
}
