package models

// StatsField names one count facet of EngagementStats.
type StatsField string

const (
	FieldLikes    StatsField = "likes"
	FieldComments StatsField = "comments"
	FieldSaves    StatsField = "saves"
	FieldShares   StatsField = "shares"
)

// StatsFields lists every count facet.
var StatsFields = []StatsField{FieldLikes, FieldComments, FieldSaves, FieldShares}

// EngagementStats is the derived engagement summary for a post.
// The viewer flags are nil when no viewer identity was supplied.
type EngagementStats struct {
	PostID        uint  `json:"post_id"`
	LikesCount    int64 `json:"likes_count"`
	CommentsCount int64 `json:"comments_count"`
	SavesCount    int64 `json:"saves_count"`
	ShareCount    int64 `json:"share_count"`
	IsLikedByUser *bool `json:"is_liked_by_user,omitempty"`
	IsSavedByUser *bool `json:"is_saved_by_user,omitempty"`
}

// Count returns the value of field f.
func (s EngagementStats) Count(f StatsField) int64 {
	switch f {
	case FieldLikes:
		return s.LikesCount
	case FieldComments:
		return s.CommentsCount
	case FieldSaves:
		return s.SavesCount
	case FieldShares:
		return s.ShareCount
	}
	return 0
}

// WithCount returns a copy of s with field f set to n.
func (s EngagementStats) WithCount(f StatsField, n int64) EngagementStats {
	switch f {
	case FieldLikes:
		s.LikesCount = n
	case FieldComments:
		s.CommentsCount = n
	case FieldSaves:
		s.SavesCount = n
	case FieldShares:
		s.ShareCount = n
	}
	return s
}

// ToggleResult is what a like/save toggle reports, both optimistically and finally.
type ToggleResult struct {
	Success  bool  `json:"success"`
	IsActive bool  `json:"is_active"`
	Count    int64 `json:"count"`
}

// CommentEventType is the kind of change a realtime comment event carries.
type CommentEventType string

const (
	EventInsert CommentEventType = "insert"
	EventUpdate CommentEventType = "update"
	EventDelete CommentEventType = "delete"
)

// CommentEvent is one realtime change notification for the comments table.
// Origin identifies the session whose write produced it.
type CommentEvent struct {
	Type    CommentEventType `json:"type"`
	Origin  string           `json:"origin,omitempty"`
	Comment Comment          `json:"row"`
}

// StatsEvent announces an authoritative recount of one field.
type StatsEvent struct {
	PostID uint       `json:"post_id"`
	Field  StatsField `json:"field"`
	Count  int64      `json:"count"`
	Origin string     `json:"origin,omitempty"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
