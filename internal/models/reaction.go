package models

import "time"

// ReactionKind identifies a per-user toggle on a post.
type ReactionKind string

const (
	ReactionLike ReactionKind = "like"
	ReactionSave ReactionKind = "save"
)

// Field returns the stats field a reaction kind counts into.
func (k ReactionKind) Field() StatsField {
	if k == ReactionSave {
		return FieldSaves
	}
	return FieldLikes
}

// Like represents a user's like on a post.
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_likes_user_post" json:"user_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_likes_user_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Save represents a user bookmarking a post.
type Save struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_saves_user_post" json:"user_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_saves_user_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}
