package storage

import (
	"time"
)

// Account is a ledger account. ID is the token subject (an auth provider user id).
type Account struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"size:255"`
	Points    int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SavedImage is a panel the user saved to their gallery. Records are never updated, only deleted.
type SavedImage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;not null;index:idx_saved_images_user_created,priority:1" json:"user_id"`
	ImageURL  string    `gorm:"not null" json:"image_url"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `gorm:"index:idx_saved_images_user_created,priority:2" json:"created_at"`
}

// UserSettings holds per-chat-user preferences of the Telegram front-end.
type UserSettings struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Language  string `gorm:"size:16;not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
