// Package notifications carries engagement change events between instances over
// Redis pub/sub and fans them out to websocket clients watching a post.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/realtime"

	"github.com/redis/go-redis/v9"
)

const (
	commentChannelPrefix = "realtime:comments:post:"
	statsChannelPrefix   = "realtime:stats:post:"
)

// ErrNoRedis is returned when subscribing without a Redis client.
var ErrNoRedis = errors.New("notifications: redis not configured")

// Notifier publishes comment and stats events into Redis channels and
// subscribes to them. It implements realtime.Feed and realtime.StatsFeed.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// CommentChannel derives the Redis channel name for a post's comment events.
func CommentChannel(postID uint) string {
	return commentChannelPrefix + strconv.FormatUint(uint64(postID), 10)
}

// StatsChannel derives the Redis channel name for a post's recounts.
func StatsChannel(postID uint) string {
	return statsChannelPrefix + strconv.FormatUint(uint64(postID), 10)
}

// PostIDFromChannel parses the post id out of a comment or stats channel.
func PostIDFromChannel(channel string) (uint, bool) {
	var rest string
	switch {
	case strings.HasPrefix(channel, commentChannelPrefix):
		rest = strings.TrimPrefix(channel, commentChannelPrefix)
	case strings.HasPrefix(channel, statsChannelPrefix):
		rest = strings.TrimPrefix(channel, statsChannelPrefix)
	default:
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// PublishComment sends a comment change to the post's channel. Without Redis it
// is a no-op.
func (n *Notifier) PublishComment(ctx context.Context, postID uint, ev models.CommentEvent) error {
	if n.rdb == nil {
		return nil
	}
	if ev.Comment.PostID == 0 {
		ev.Comment.PostID = postID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal comment event: %w", err)
	}
	if err := n.rdb.Publish(ctx, CommentChannel(postID), payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return err
	}
	return nil
}

// PublishStats sends a recount to the post's stats channel.
func (n *Notifier) PublishStats(ctx context.Context, ev models.StatsEvent) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stats event: %w", err)
	}
	if err := n.rdb.Publish(ctx, StatsChannel(ev.PostID), payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return err
	}
	return nil
}

// Subscribe implements realtime.Feed. A zero PostID in filter subscribes to the
// comments of every post.
func (n *Notifier) Subscribe(
	ctx context.Context, filter realtime.Filter, handler func(models.CommentEvent),
) (realtime.Subscription, error) {
	channel, pattern := CommentChannel(filter.PostID), false
	if filter.PostID == 0 {
		channel, pattern = commentChannelPrefix+"*", true
	}
	return n.listen(ctx, channel, pattern, func(payload string) {
		var ev models.CommentEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			observability.GlobalLogger.Warn("dropping malformed comment event", slog.String("error", err.Error()))
			return
		}
		if filter.Matches(ev) {
			realtime.Deliver(handler, ev)
		}
	})
}

// SubscribeStats implements realtime.StatsFeed.
func (n *Notifier) SubscribeStats(
	ctx context.Context, postID uint, handler func(models.StatsEvent),
) (realtime.Subscription, error) {
	channel, pattern := StatsChannel(postID), false
	if postID == 0 {
		channel, pattern = statsChannelPrefix+"*", true
	}
	return n.listen(ctx, channel, pattern, func(payload string) {
		var ev models.StatsEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			observability.GlobalLogger.Warn("dropping malformed stats event", slog.String("error", err.Error()))
			return
		}
		realtime.Deliver(handler, ev)
	})
}

// SubscribeAllStats subscribes to the recounts of every post.
func (n *Notifier) SubscribeAllStats(ctx context.Context, handler func(models.StatsEvent)) (realtime.Subscription, error) {
	return n.SubscribeStats(ctx, 0, handler)
}

// listen subscribes to channel (or pattern) and calls onMessage for each
// payload, in order, from a single goroutine. The subscription is confirmed
// before listen returns, so a publish that follows is never missed.
func (n *Notifier) listen(
	ctx context.Context, channel string, pattern bool, onMessage func(payload string),
) (realtime.Subscription, error) {
	if n.rdb == nil {
		return nil, ErrNoRedis
	}

	var sub *redis.PubSub
	if pattern {
		sub = n.rdb.PSubscribe(ctx, channel)
	} else {
		sub = n.rdb.Subscribe(ctx, channel)
	}
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		observability.RedisErrorRate.WithLabelValues("subscribe").Inc()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := sub.Channel()

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if subCtx.Err() != nil {
					return
				}
				onMessage(msg.Payload)
			}
		}
	}()

	return realtime.OnceSubscription(func() error {
		cancel()
		return nil
	}), nil
}
