package engagement

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"troodie/internal/models"
	"troodie/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_AcquireReusesEngine(t *testing.T) {
	clock := newFakeClock()
	store := NewSessionStore(NewService(noopStore(), Options{Now: clock.Now}), time.Minute, 0)

	id, first := store.Acquire("")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, first.Origin())

	sameID, second := store.Acquire(id)
	assert.Equal(t, id, sameID)
	assert.Same(t, first, second)

	otherID, other := store.Acquire("not-a-session")
	assert.NotEqual(t, "not-a-session", otherID)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, store.Len())
}

func TestSessionStore_SweepEvictsIdle(t *testing.T) {
	clock := newFakeClock()
	store := NewSessionStore(NewService(noopStore(), Options{Now: clock.Now}), time.Minute, 0)

	idleID, idle := store.Acquire("")
	idle.Cache().SetCount(1, models.FieldLikes, 2)
	clock.Advance(45 * time.Second)
	activeID, _ := store.Acquire("")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, ok := idle.Cache().Count(1, models.FieldLikes)
	assert.False(t, ok, "evicted engine dropped its cache")

	gotID, _ := store.Acquire(activeID)
	assert.Equal(t, activeID, gotID)
	newID, fresh := store.Acquire(idleID)
	assert.Equal(t, idleID, newID)
	assert.NotSame(t, idle, fresh)
}

func TestSessionStore_DropAndClose(t *testing.T) {
	store := NewSessionStore(NewService(noopStore(), Options{}), time.Minute, 0)

	a, _ := store.Acquire("")
	store.Acquire("")
	store.Drop(a)
	assert.Equal(t, 1, store.Len())

	store.Close()
	assert.Zero(t, store.Len())
}

func TestSessionStore_SweepKeepsStreamingSessions(t *testing.T) {
	broker := realtime.NewBroker()
	repo := noopCommentRepo()
	var nextID atomic.Uint32
	repo.createFn = func(_ context.Context, c *models.Comment) error {
		c.ID = uint(nextID.Add(1))
		return nil
	}
	backing := noopStore()
	backing.Comments = repo
	clock := newFakeClock()
	svc := NewService(backing, Options{Now: clock.Now, Publisher: broker, Feed: broker})
	store := NewSessionStore(svc, time.Minute, 0)
	defer store.Close()

	id, viewer := store.Acquire("")
	inserted := make(chan *models.Comment, 1)
	view, err := viewer.SubscribeToComments(context.Background(), 1, realtime.Handlers{
		OnInsert: func(c *models.Comment) { inserted <- c },
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Zero(t, store.Sweep(), "a mounted view keeps its session")
	assert.Equal(t, realtime.StateLive, view.State())

	writer := svc.NewEngine("writer")
	defer writer.Close()
	_, err = writer.Comments.Create(context.Background(), CreateCommentInput{PostID: 1, UserID: 9, Content: "still streaming"})
	require.NoError(t, err)
	select {
	case c := <-inserted:
		assert.Equal(t, "still streaming", c.Content)
	case <-time.After(time.Second):
		t.Fatal("stream stopped receiving inserts")
	}

	viewer.Unsubscribe(view)
	assert.Equal(t, 1, store.Sweep(), "idle again once the view is gone")
	newID, fresh := store.Acquire(id)
	assert.Equal(t, id, newID)
	assert.NotSame(t, viewer, fresh)
}

func TestSessionStore_CapEvictsLeastRecentlySeen(t *testing.T) {
	broker := realtime.NewBroker()
	svc := NewService(noopStore(), Options{Feed: broker})
	store := NewSessionStore(svc, time.Hour, 3)
	defer store.Close()

	streamingID, streaming := store.Acquire("")
	_, err := streaming.SubscribeToComments(context.Background(), 1, realtime.Handlers{})
	require.NoError(t, err)

	var engines []*Engine
	for i := 0; i < 50; i++ {
		// requests without a session header
		_, e := store.Acquire("")
		engines = append(engines, e)
	}
	assert.Equal(t, 3, store.Len())

	_, err = engines[0].SubscribeToComments(context.Background(), 1, realtime.Handlers{})
	assert.ErrorIs(t, err, models.ErrStaleView, "evicted engines are closed")

	gotID, same := store.Acquire(streamingID)
	assert.Equal(t, streamingID, gotID)
	assert.Same(t, streaming, same, "a streaming session survives the cap")
	assert.True(t, streaming.Active())
}
