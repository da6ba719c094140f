package cache

import (
	"sync"
	"time"

	"troodie/internal/models"
	"troodie/internal/observability"
)

// DefaultStatsTTL is how long a cached count, flag, or comment page stays fresh.
const DefaultStatsTTL = 5 * time.Minute

type stamped[T any] struct {
	value T
	at    time.Time
}

type flagKey struct {
	kind   models.ReactionKind
	postID uint
	userID uint
}

// StatsCache is the in-memory engagement cache of one viewing session.
//
// Counts are stored per field, each with its own timestamp, so an optimistic
// adjustment or a single recount never makes the other fields look fresher
// than they are. Viewer flags are keyed by (kind, post, user) and are never
// touched by count updates. Nothing here blocks on I/O.
type StatsCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	counts   map[uint]map[models.StatsField]stamped[int64]
	flags    map[flagKey]stamped[bool]
	comments map[uint]stamped[commentPage]
}

// commentPage is the cached first page plus whether the store reported more
// rows behind it. Local pruning shortens list without changing more.
type commentPage struct {
	list []*models.Comment
	more bool
}

// NewStatsCache returns an empty cache. A nil clock uses time.Now and a
// non-positive ttl uses DefaultStatsTTL.
func NewStatsCache(ttl time.Duration, now func() time.Time) *StatsCache {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StatsCache{
		ttl:      ttl,
		now:      now,
		counts:   make(map[uint]map[models.StatsField]stamped[int64]),
		flags:    make(map[flagKey]stamped[bool]),
		comments: make(map[uint]stamped[commentPage]),
	}
}

// TTL returns the freshness window.
func (c *StatsCache) TTL() time.Duration {
	return c.ttl
}

func (c *StatsCache) fresh(at time.Time) bool {
	return c.now().Sub(at) < c.ttl
}

// Get returns the counts for postID when every field is present and fresh.
// Viewer flags are not part of the result.
func (c *StatsCache) Get(postID uint) (models.EngagementStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := models.EngagementStats{PostID: postID}
	fields := c.counts[postID]
	for _, f := range models.StatsFields {
		v, ok := fields[f]
		if !ok || !c.fresh(v.at) {
			observability.StatsCacheLookups.WithLabelValues("miss").Inc()
			return models.EngagementStats{}, false
		}
		stats = stats.WithCount(f, v.value)
	}
	observability.StatsCacheLookups.WithLabelValues("hit").Inc()
	return stats, true
}

// Set stores all four counts of stats, stamped now. Flags in stats are ignored;
// use SetFlag with the viewer id.
func (c *StatsCache) Set(postID uint, stats models.EngagementStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	fields := c.fieldsLocked(postID)
	for _, f := range models.StatsFields {
		fields[f] = stamped[int64]{value: max(stats.Count(f), 0), at: now}
	}
}

// IsStale reports whether any count field of postID is missing or expired.
func (c *StatsCache) IsStale(postID uint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fields := c.counts[postID]
	for _, f := range models.StatsFields {
		v, ok := fields[f]
		if !ok || !c.fresh(v.at) {
			return true
		}
	}
	return false
}

// Count returns one fresh count field.
func (c *StatsCache) Count(postID uint, field models.StatsField) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.counts[postID][field]
	if !ok || !c.fresh(v.at) {
		return 0, false
	}
	return v.value, true
}

// SetCount stores an authoritative value for one field, floored at zero.
func (c *StatsCache) SetCount(postID uint, field models.StatsField, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fieldsLocked(postID)[field] = stamped[int64]{value: max(n, 0), at: c.now()}
}

// Update adjusts a fresh field by delta, floored at zero, and returns the new
// value. A missing or expired field is left alone and reported false. The
// field keeps its original timestamp: an optimistic guess does not extend
// the life of the value it was applied to.
func (c *StatsCache) Update(postID uint, field models.StatsField, delta int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := c.counts[postID]
	v, ok := fields[field]
	if !ok || !c.fresh(v.at) {
		return 0, false
	}
	v.value = max(v.value+delta, 0)
	fields[field] = v
	return v.value, true
}

// InvalidateCount drops one count field.
func (c *StatsCache) InvalidateCount(postID uint, field models.StatsField) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fields, ok := c.counts[postID]; ok {
		delete(fields, field)
		if len(fields) == 0 {
			delete(c.counts, postID)
		}
	}
}

// Flag returns the cached reaction flag of userID on postID.
func (c *StatsCache) Flag(kind models.ReactionKind, postID, userID uint) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.flags[flagKey{kind, postID, userID}]
	if !ok || !c.fresh(v.at) {
		return false, false
	}
	return v.value, true
}

// SetFlag stores the reaction flag of userID on postID.
func (c *StatsCache) SetFlag(kind models.ReactionKind, postID, userID uint, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flags[flagKey{kind, postID, userID}] = stamped[bool]{value: active, at: c.now()}
}

// InvalidateFlag drops the reaction flag of userID on postID.
func (c *StatsCache) InvalidateFlag(kind models.ReactionKind, postID, userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.flags, flagKey{kind, postID, userID})
}

// Comments returns a copy of the cached first page of top-level comments.
func (c *StatsCache) Comments(postID uint) ([]*models.Comment, bool) {
	list, _, ok := c.CommentPage(postID)
	return list, ok
}

// CommentPage returns a copy of the cached first page and whether older
// comments exist beyond it.
func (c *StatsCache) CommentPage(postID uint) (list []*models.Comment, more bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.comments[postID]
	if !ok || !c.fresh(v.at) {
		return nil, false, false
	}
	return models.CloneComments(v.value.list), v.value.more, true
}

// SetComments caches the first page of top-level comments, newest first.
// more records whether the store had older comments beyond the page.
func (c *StatsCache) SetComments(postID uint, list []*models.Comment, more bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.comments[postID] = stamped[commentPage]{
		value: commentPage{list: models.CloneComments(list), more: more},
		at:    c.now(),
	}
}

// PrependComment puts a new top-level comment at the head of a cached list.
// Without a cached list there is nothing to keep in sync and it does nothing.
// A comment whose id is already listed is replaced in place instead.
func (c *StatsCache) PrependComment(postID uint, comment *models.Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.comments[postID]
	if !ok {
		return
	}
	for i, existing := range v.value.list {
		if existing.Key() == comment.Key() {
			v.value.list[i] = comment.Clone()
			return
		}
	}
	v.value.list = append([]*models.Comment{comment.Clone()}, v.value.list...)
	c.comments[postID] = v
}

// ReplaceComment swaps the cached copy of comment (top-level or reply) for
// the given one, matching on ID.
func (c *StatsCache) ReplaceComment(postID uint, comment *models.Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.comments[postID]
	if !ok {
		return
	}
	for i, top := range v.value.list {
		if top.ID == comment.ID {
			replies := top.Replies
			v.value.list[i] = comment.Clone()
			v.value.list[i].Replies = replies
			return
		}
		for j, reply := range top.Replies {
			if reply.ID == comment.ID {
				top.Replies[j] = comment.Clone()
				return
			}
		}
	}
}

// RemoveComment drops commentID from the cached list, both as a top-level
// entry and from every reply array.
func (c *StatsCache) RemoveComment(postID, commentID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.comments[postID]
	if !ok {
		return
	}
	kept := v.value.list[:0]
	for _, top := range v.value.list {
		if top.ID == commentID {
			continue
		}
		replies := top.Replies[:0]
		for _, r := range top.Replies {
			if r.ID != commentID {
				replies = append(replies, r)
			}
		}
		top.Replies = replies
		kept = append(kept, top)
	}
	v.value.list = kept
	c.comments[postID] = v
}

// Invalidate clears every facet cached for postID: counts, the comment list,
// and the flags of every viewer.
func (c *StatsCache) Invalidate(postID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.counts, postID)
	delete(c.comments, postID)
	for k := range c.flags {
		if k.postID == postID {
			delete(c.flags, k)
		}
	}
}

// Clear drops everything. Called when the owning session is torn down.
func (c *StatsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.counts)
	clear(c.flags)
	clear(c.comments)
}

func (c *StatsCache) fieldsLocked(postID uint) map[models.StatsField]stamped[int64] {
	fields, ok := c.counts[postID]
	if !ok {
		fields = make(map[models.StatsField]stamped[int64], len(models.StatsFields))
		c.counts[postID] = fields
	}
	return fields
}
