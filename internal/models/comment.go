package models

import (
	"fmt"
	"time"
)

// Comment is a post comment. Replies are one level deep: a reply always points at
// a top-level comment.
type Comment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PostID          uint      `gorm:"not null;index:idx_comments_post_parent_created,priority:1" json:"post_id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	ParentCommentID *uint     `gorm:"index:idx_comments_post_parent_created,priority:2" json:"parent_comment_id"`
	CreatedAt       time.Time `gorm:"index:idx_comments_post_parent_created,priority:3" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Author  Author     `gorm:"-" json:"author"`
	Replies []*Comment `gorm:"-" json:"replies,omitempty"`
	// TempID is set only on optimistic placeholders, which have no ID yet.
	TempID string `gorm:"-" json:"temp_id,omitempty"`
}

// IsTopLevel reports whether c has no parent.
func (c *Comment) IsTopLevel() bool {
	return c.ParentCommentID == nil
}

// IsPlaceholder reports whether c is an unconfirmed optimistic comment.
func (c *Comment) IsPlaceholder() bool {
	return c.ID == 0 && c.TempID != ""
}

// Key is the identity merging logic uses for c.
func (c *Comment) Key() string {
	if c.ID == 0 {
		return "tmp:" + c.TempID
	}
	return fmt.Sprintf("c:%d", c.ID)
}

// Clone deep-copies c and its replies.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParentCommentID != nil {
		parent := *c.ParentCommentID
		out.ParentCommentID = &parent
	}
	if c.Replies != nil {
		out.Replies = make([]*Comment, len(c.Replies))
		for i, r := range c.Replies {
			out.Replies[i] = r.Clone()
		}
	}
	return &out
}

// CloneComments deep-copies a comment list.
func CloneComments(in []*Comment) []*Comment {
	if in == nil {
		return nil
	}
	out := make([]*Comment, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// CommentPage is one page of a newest-first top-level listing.
type CommentPage struct {
	Comments   []*Comment `json:"comments"`
	NextCursor *time.Time `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}
