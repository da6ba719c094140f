package models

import (
	"time"
)

// User holds the display identity attached to authored content.
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string    `json:"display_name"`
	Avatar      string    `json:"avatar"`
	IsVerified  bool      `gorm:"not null;default:false" json:"is_verified"`
	IsAdmin     bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Author is the snapshot of a user's display fields embedded in comments.
type Author struct {
	UserID   uint   `json:"user_id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Verified bool   `json:"verified"`
}

const unknownAuthorName = "Unknown User"

// UnknownAuthor is the identity used when the author lookup fails.
func UnknownAuthor(userID uint) Author {
	return Author{UserID: userID, Name: unknownAuthorName}
}

// IsUnknown reports whether a is the lookup-failure placeholder.
func (a Author) IsUnknown() bool {
	return a.Name == unknownAuthorName && a.Avatar == "" && !a.Verified
}

// AuthorOf derives the display snapshot for u.
func AuthorOf(u *User) Author {
	if u == nil {
		return Author{Name: unknownAuthorName}
	}
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Author{UserID: u.ID, Name: name, Avatar: u.Avatar, Verified: u.IsVerified}
}
