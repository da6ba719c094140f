package engagement

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"troodie/internal/observability"

	"github.com/google/uuid"
)

// DefaultMaxSessions caps the store when no limit is configured.
const DefaultMaxSessions = 10000

// SessionStore hands out one Engine per viewing session and tears engines
// down after they sit idle. Sessions backing a mounted comment view are never
// evicted, neither by the idle sweep nor by the size cap.
type SessionStore struct {
	svc  *Service
	idle time.Duration
	max  int
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	// least recently seen at the back
	order *list.List
}

type session struct {
	id       string
	engine   *Engine
	lastSeen time.Time
	elem     *list.Element
}

// NewSessionStore creates a store whose sessions expire after idle and which
// holds at most maxSessions of them.
func NewSessionStore(svc *Service, idle time.Duration, maxSessions int) *SessionStore {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &SessionStore{
		svc:      svc,
		idle:     idle,
		max:      maxSessions,
		now:      svc.opts.Now,
		sessions: make(map[string]*session),
		order:    list.New(),
	}
}

// Acquire returns the engine of sessionID, creating it when needed. An empty
// or malformed id gets a fresh one; the id actually used is returned. Creating
// a session in a full store evicts the least recently seen idle one.
func (s *SessionStore) Acquire(sessionID string) (string, *Engine) {
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	var evicted *Engine
	if ok {
		s.order.MoveToFront(sess.elem)
	} else {
		if len(s.sessions) >= s.max {
			evicted = s.evictLocked()
		}
		sess = &session{id: sessionID, engine: s.svc.NewEngine(sessionID)}
		sess.elem = s.order.PushFront(sess)
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = s.now()
	s.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	return sessionID, sess.engine
}

// evictLocked removes the least recently seen session without a live view.
// When every session streams, the store grows past its cap instead.
func (s *SessionStore) evictLocked() *Engine {
	for el := s.order.Back(); el != nil; el = el.Prev() {
		sess := el.Value.(*session)
		if sess.engine.Active() {
			continue
		}
		s.removeLocked(sess)
		observability.SessionsEvicted.WithLabelValues("capacity").Inc()
		return sess.engine
	}
	return nil
}

func (s *SessionStore) removeLocked(sess *session) {
	s.order.Remove(sess.elem)
	delete(s.sessions, sess.id)
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Drop closes one session.
func (s *SessionStore) Drop(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		s.removeLocked(sess)
	}
	s.mu.Unlock()

	if ok {
		sess.engine.Close()
	}
}

// Sweep closes every session idle for longer than the timeout and returns
// how many were closed. A session with a mounted comment view stays.
func (s *SessionStore) Sweep() int {
	cutoff := s.now().Add(-s.idle)

	s.mu.Lock()
	var expired []*Engine
	for el := s.order.Back(); el != nil; {
		sess := el.Value.(*session)
		el = el.Prev()
		if !sess.lastSeen.Before(cutoff) {
			break
		}
		if sess.engine.Active() {
			continue
		}
		s.removeLocked(sess)
		expired = append(expired, sess.engine)
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.Close()
	}
	if len(expired) > 0 {
		observability.SessionsEvicted.WithLabelValues("idle").Add(float64(len(expired)))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done.
func (s *SessionStore) Run(ctx context.Context) {
	ticker := time.NewTicker(max(s.idle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				observability.GlobalLogger.Debug("evicted idle engagement sessions", slog.Int("count", n))
			}
		}
	}
}

// Close tears down every session.
func (s *SessionStore) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.order.Init()
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.Close()
	}
}
