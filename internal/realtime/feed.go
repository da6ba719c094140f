// Package realtime reconciles a live change feed of comments with locally
// loaded pages and optimistic writes.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"troodie/internal/models"
	"troodie/internal/observability"
)

// Filter narrows a comment subscription to one post. Events whose Origin equals
// ExcludeOrigin are not delivered.
type Filter struct {
	PostID        uint
	ExcludeOrigin string
}

// Subscription is a live feed registration. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}

// Feed is the change-feed collaborator: it delivers comment events matching a
// filter until the subscription is cancelled or ctx is done. Handlers for one
// subscription are called sequentially.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, handler func(models.CommentEvent)) (Subscription, error)
}

// StatsFeed delivers authoritative recount announcements. PostID 0 subscribes
// to every post.
type StatsFeed interface {
	SubscribeStats(ctx context.Context, postID uint, handler func(models.StatsEvent)) (Subscription, error)
}

// SubscriptionFunc adapts a cancel function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}

// OnceSubscription wraps cancel so that only the first Unsubscribe runs it.
func OnceSubscription(cancel func() error) Subscription {
	var once sync.Once
	var err error
	return SubscriptionFunc(func() error {
		once.Do(func() { err = cancel() })
		return err
	})
}

// Matches reports whether ev passes f.
func (f Filter) Matches(ev models.CommentEvent) bool {
	if f.PostID != 0 && ev.Comment.PostID != f.PostID {
		return false
	}
	if f.ExcludeOrigin != "" && ev.Origin == f.ExcludeOrigin {
		return false
	}
	return true
}

// Deliver calls handler, recovering a panic so one bad consumer cannot take
// down the delivery loop.
func Deliver[T any](handler func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("realtime handler panicked", slog.Any("panic", r))
			observability.RealtimeEvents.WithLabelValues("deliver", "panic").Inc()
		}
	}()
	handler(v)
}

// mailbox is an unbounded FIFO drained by one goroutine, so a slow consumer
// never blocks the publisher and never loses an event.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox[T any](handler func(T)) *mailbox[T] {
	m := &mailbox[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.run(handler)
	return m
}

func (m *mailbox[T]) push(v T) {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return
	default:
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) run(handler func(T)) {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			m.mu.Lock()
			if len(m.items) == 0 {
				m.mu.Unlock()
				break
			}
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()

			select {
			case <-m.done:
				return
			default:
			}
			Deliver(handler, v)
		}
	}
}

func (m *mailbox[T]) close() {
	m.once.Do(func() {
		m.mu.Lock()
		close(m.done)
		m.items = nil
		m.mu.Unlock()
	})
}

type commentSub struct {
	filter Filter
	box    *mailbox[models.CommentEvent]
}

type statsSub struct {
	postID uint
	box    *mailbox[models.StatsEvent]
}

// Broker is an in-process change feed. It serves single-instance deployments
// and tests; multi-instance deployments use the Redis notifier instead.
type Broker struct {
	mu       sync.RWMutex
	next     uint64
	comments map[uint64]*commentSub
	stats    map[uint64]*statsSub
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		comments: make(map[uint64]*commentSub),
		stats:    make(map[uint64]*statsSub),
	}
}

// Subscribe implements Feed.
func (b *Broker) Subscribe(ctx context.Context, filter Filter, handler func(models.CommentEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &commentSub{filter: filter, box: newMailbox(handler)}

	b.mu.Lock()
	b.next++
	id := b.next
	b.comments[id] = sub
	b.mu.Unlock()

	return b.bind(ctx, func() {
		b.mu.Lock()
		delete(b.comments, id)
		b.mu.Unlock()
		sub.box.close()
	}), nil
}

// SubscribeStats implements StatsFeed.
func (b *Broker) SubscribeStats(ctx context.Context, postID uint, handler func(models.StatsEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &statsSub{postID: postID, box: newMailbox(handler)}

	b.mu.Lock()
	b.next++
	id := b.next
	b.stats[id] = sub
	b.mu.Unlock()

	return b.bind(ctx, func() {
		b.mu.Lock()
		delete(b.stats, id)
		b.mu.Unlock()
		sub.box.close()
	}), nil
}

func (b *Broker) bind(ctx context.Context, cancel func()) Subscription {
	stop := context.AfterFunc(ctx, cancel)
	return OnceSubscription(func() error {
		stop()
		cancel()
		return nil
	})
}

// PublishComment fans ev out to every matching comment subscription.
func (b *Broker) PublishComment(_ context.Context, postID uint, ev models.CommentEvent) error {
	if ev.Comment.PostID == 0 {
		ev.Comment.PostID = postID
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.comments {
		if sub.filter.Matches(ev) {
			sub.box.push(ev)
		}
	}
	return nil
}

// PublishStats fans ev out to the stats subscribers of its post.
func (b *Broker) PublishStats(_ context.Context, ev models.StatsEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.stats {
		if sub.postID == 0 || sub.postID == ev.PostID {
			sub.box.push(ev)
		}
	}
	return nil
}

// SubscribeAllStats subscribes to the recounts of every post.
func (b *Broker) SubscribeAllStats(ctx context.Context, handler func(models.StatsEvent)) (Subscription, error) {
	return b.SubscribeStats(ctx, 0, handler)
}
