package models

import "time"

// Share is an analytics record of a share action. Anonymous shares have no UserID.
type Share struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	Platform  string    `gorm:"size:64;not null" json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// Share platforms recorded by the engine.
const (
	PlatformClipboard = "clipboard"
	PlatformUnknown   = "unknown"
)
