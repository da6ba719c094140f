package engagement

import (
	"context"
	"log/slog"
	"sync"

	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/repository"
)

// ReactionManager toggles one per-user reaction kind (likes or saves).
type ReactionManager struct {
	e     *Engine
	kind  models.ReactionKind
	field models.StatsField
	repo  repository.ReactionRepository
	locks postLocks
}

func newReactionManager(e *Engine, kind models.ReactionKind, repo repository.ReactionRepository) *ReactionManager {
	return &ReactionManager{
		e:     e,
		kind:  kind,
		field: kind.Field(),
		repo:  repo,
		locks: postLocks{m: make(map[uint]*postLock)},
	}
}

// Kind returns the reaction kind managed.
func (m *ReactionManager) Kind() models.ReactionKind {
	return m.kind
}

// IsActive reports whether userID has reacted to postID, from the cache when
// fresh.
func (m *ReactionManager) IsActive(ctx context.Context, postID, userID uint) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	if active, ok := m.e.cache.Flag(m.kind, postID, userID); ok {
		return active, nil
	}
	active, err := m.repo.Exists(ctx, userID, postID)
	if err != nil {
		return false, err
	}
	m.e.cache.SetFlag(m.kind, postID, userID, active)
	return active, nil
}

// GetCount returns the reaction count of postID, from the cache when fresh.
func (m *ReactionManager) GetCount(ctx context.Context, postID uint) (int64, error) {
	if n, ok := m.e.cache.Count(postID, m.field); ok {
		return n, nil
	}
	n, err := m.repo.Count(ctx, postID)
	if err != nil {
		return 0, err
	}
	m.e.cache.SetCount(postID, m.field, n)
	return n, nil
}

// Toggle flips userID's reaction on postID.
//
// The cache is flipped before the write and onOptimistic, when set, is called
// with that guess before any network round trip. A failed write restores the
// flag and count exactly and returns a WRITE_FAILED error along with the
// restored state. A successful write is followed by an authoritative recount
// and flag re-read, which is what the returned result carries.
func (m *ReactionManager) Toggle(ctx context.Context, postID, userID uint, onOptimistic func(models.ToggleResult)) (res models.ToggleResult, err error) {
	ctx, span := observability.GetTraceLayer().TraceEngineOperation(ctx, string(m.kind), "toggle", postID)
	defer func() { observability.EndSpan(span, err) }()

	if userID == 0 {
		return models.ToggleResult{}, models.NewUnauthorizedError("Sign in to " + string(m.kind) + " posts")
	}

	unlock := m.locks.lock(postID)
	defer unlock()

	prevActive, err := m.IsActive(ctx, postID, userID)
	if err != nil {
		return models.ToggleResult{}, models.NewInternalError(err)
	}
	prevCount, err := m.GetCount(ctx, postID)
	if err != nil {
		return models.ToggleResult{}, models.NewInternalError(err)
	}

	next := !prevActive
	delta := int64(1)
	if !next {
		delta = -1
	}
	optimistic, ok := m.e.cache.Update(postID, m.field, delta)
	if !ok {
		// expired between the read above and now
		optimistic = max(prevCount+delta, 0)
		m.e.cache.SetCount(postID, m.field, optimistic)
	}
	m.e.cache.SetFlag(m.kind, postID, userID, next)

	if onOptimistic != nil {
		onOptimistic(models.ToggleResult{Success: true, IsActive: next, Count: optimistic})
	}

	if err := m.write(ctx, postID, userID, next); err != nil {
		m.e.cache.SetFlag(m.kind, postID, userID, prevActive)
		m.e.cache.SetCount(postID, m.field, prevCount)
		observability.EngagementRollbacks.WithLabelValues(string(m.kind)).Inc()
		observability.EngagementToggles.WithLabelValues(string(m.kind), "failed").Inc()
		observability.GlobalLogger.WarnContext(ctx, "toggle write failed, optimistic state rolled back",
			slog.String("kind", string(m.kind)),
			slog.Uint64("post_id", uint64(postID)),
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
		restored := models.ToggleResult{Success: false, IsActive: prevActive, Count: prevCount}
		return restored, models.NewWriteFailedError("toggle "+string(m.kind), err)
	}

	res = m.reconcile(ctx, postID, userID, next, optimistic)
	observability.EngagementToggles.WithLabelValues(string(m.kind), "ok").Inc()
	return res, nil
}

func (m *ReactionManager) write(ctx context.Context, postID, userID uint, on bool) error {
	if on {
		_, err := m.repo.Add(ctx, userID, postID)
		return err
	}
	_, err := m.repo.Remove(ctx, userID, postID)
	return err
}

// reconcile replaces the optimistic guess with what the store now says. A
// failed re-read keeps the guess for the caller but leaves the cache without
// a value, so the next read recounts.
func (m *ReactionManager) reconcile(ctx context.Context, postID, userID uint, next bool, optimistic int64) models.ToggleResult {
	res := models.ToggleResult{Success: true, IsActive: next, Count: optimistic}

	n, err := m.repo.Count(ctx, postID)
	if err != nil {
		m.e.cache.InvalidateCount(postID, m.field)
		observability.GlobalLogger.WarnContext(ctx, "recount after toggle failed",
			slog.String("kind", string(m.kind)),
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
	} else {
		res.Count = n
		m.e.cache.SetCount(postID, m.field, n)
		m.e.announce(ctx, postID, m.field, n)
	}

	active, err := m.repo.Exists(ctx, userID, postID)
	if err != nil {
		m.e.cache.InvalidateFlag(m.kind, postID, userID)
		return res
	}
	res.IsActive = active
	m.e.cache.SetFlag(m.kind, postID, userID, active)
	return res
}

// BatchIsActive reports userID's reaction on each post. Fresh cached flags
// are reused; the remainder is resolved with a single membership query.
func (m *ReactionManager) BatchIsActive(ctx context.Context, postIDs []uint, userID uint) (map[uint]bool, error) {
	ids := dedupe(postIDs)
	out := make(map[uint]bool, len(ids))
	if userID == 0 {
		for _, id := range ids {
			out[id] = false
		}
		return out, nil
	}

	var missing []uint
	for _, id := range ids {
		if active, ok := m.e.cache.Flag(m.kind, id, userID); ok {
			out[id] = active
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	active, err := m.repo.ActivePostIDs(ctx, userID, missing)
	if err != nil {
		return nil, err
	}
	set := make(map[uint]struct{}, len(active))
	for _, id := range active {
		set[id] = struct{}{}
	}
	for _, id := range missing {
		_, on := set[id]
		out[id] = on
		m.e.cache.SetFlag(m.kind, id, userID, on)
	}
	return out, nil
}

// BatchGetCounts returns the reaction count of each post. Fresh cached counts
// are reused; the remainder costs one grouped query.
func (m *ReactionManager) BatchGetCounts(ctx context.Context, postIDs []uint) (map[uint]int64, error) {
	ids := dedupe(postIDs)
	out := make(map[uint]int64, len(ids))

	var missing []uint
	for _, id := range ids {
		if n, ok := m.e.cache.Count(id, m.field); ok {
			out[id] = n
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	counts, err := m.repo.CountByPosts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		out[id] = counts[id]
		m.e.cache.SetCount(id, m.field, counts[id])
	}
	return out, nil
}

// postLocks serializes toggles on the same post within a session so that a
// rollback always restores the state its own toggle started from.
type postLocks struct {
	mu sync.Mutex
	m  map[uint]*postLock
}

type postLock struct {
	sync.Mutex
	refs int
}

func (l *postLocks) lock(postID uint) func() {
	l.mu.Lock()
	pl, ok := l.m[postID]
	if !ok {
		pl = &postLock{}
		l.m[postID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, postID)
		}
		l.mu.Unlock()
	}
}
