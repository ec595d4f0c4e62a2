package model

import "time"

// Character represents a player character. Character IDs are opaque
// strings (UUIDs) so they can be carried through wire payloads and cache
// keys without conversion.
type Character struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	AccountID int64     `gorm:"index:idx_char_account;not null" json:"account_id"`
	Name      string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
