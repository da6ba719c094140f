package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/realtime"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections watching one post
	maxConnsPerPost = 500
	// Max total connections
	maxTotalConns = 10000
)

// Frame types sent to websocket clients.
const (
	FrameCommentInsert  = "comment_insert"
	FrameCommentUpdate  = "comment_update"
	FrameCommentDelete  = "comment_delete"
	FrameCommentCreated = "comment_created"
	FrameStats          = "stats"
	FrameState          = "state"
	FrameError          = "error"
)

var (
	ErrServerFull = errors.New("server connection limit reached")
	ErrPostFull   = errors.New("post connection limit reached")
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame marshals payload into a frame of type typ.
func EncodeFrame(typ string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": err.Error()})
		typ = FrameError
	}
	out, _ := json.Marshal(Frame{Type: typ, Payload: raw})
	return out
}

// StatsSource is anything that can stream recounts for every post.
type StatsSource interface {
	SubscribeAllStats(ctx context.Context, handler func(models.StatsEvent)) (realtime.Subscription, error)
}

// Hub is a websocket hub that maps postID -> watching Clients.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	log        *observability.WSLogger
	shutdown   chan struct{}
	closeOnce  sync.Once
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[uint]map[*Client]struct{}),
		log:      observability.NewWSLogger("comment stream"),
		shutdown: make(chan struct{}),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "comment stream" }

// Register adds a connection watching postID. Returns an error if limits are exceeded.
func (h *Hub) Register(postID, userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.shutdown:
		return nil, ErrServerFull
	default:
	}

	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}
	m, ok := h.conns[postID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[postID] = m
	}
	if len(m) >= maxConnsPerPost {
		return nil, ErrPostFull
	}

	client := NewClient(h, conn, userID, postID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), userID, postID)
	return client, nil
}

// UnregisterClient removes client. Calling it twice is harmless.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.PostID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.PostID)
		}
	}
	h.mu.Unlock()

	if removed {
		observability.WebSocketConnectionsTotal.Dec()
		h.log.LogDisconnect(context.Background(), client.UserID, client.PostID, "unregistered")
	}
}

// Watching returns how many clients are registered for postID.
func (h *Hub) Watching(postID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[postID])
}

// BroadcastPost sends message to every client watching postID.
func (h *Hub) BroadcastPost(postID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[postID] {
		c.TrySend(message)
	}
}

// StartWiring forwards every recount from source to the clients watching the
// recounted post. The subscription ends with ctx or Shutdown.
func (h *Hub) StartWiring(ctx context.Context, source StatsSource) error {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := source.SubscribeAllStats(ctx, func(ev models.StatsEvent) {
		if ev.PostID == 0 {
			observability.GlobalLogger.Warn("stats event without post", slog.String("field", string(ev.Field)))
			return
		}
		h.BroadcastPost(ev.PostID, EncodeFrame(FrameStats, ev))
	})
	if err != nil {
		cancel()
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-h.shutdown:
		}
		_ = sub.Unsubscribe()
		cancel()
	}()
	return nil
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	h.closeOnce.Do(func() { close(h.shutdown) })

	h.mu.Lock()
	for postID, postConns := range h.conns {
		for client := range postConns {
			observability.WebSocketConnectionsTotal.Dec()
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				observability.GlobalLogger.Warn("failed to write close message",
					slog.Uint64("post_id", uint64(postID)), slog.String("error", err.Error()))
			}
			if err := client.Conn.Close(); err != nil {
				observability.GlobalLogger.Warn("failed to close websocket",
					slog.Uint64("post_id", uint64(postID)), slog.String("error", err.Error()))
			}
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	return nil
}
