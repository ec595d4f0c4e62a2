package model

import "time"

// Friendship is one direction of a friend relationship. A full friendship
// between A and B is two rows (A→B and B→A); FriendName is the owner's
// cached display name for the friend, so the two rows can differ.
// The composite unique index makes adding the same friend twice a no-op
// at the store level.
type Friendship struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CharID     string    `gorm:"uniqueIndex:idx_friend_pair;size:36;not null" json:"charId"`
	FriendID   string    `gorm:"uniqueIndex:idx_friend_pair;size:36;not null" json:"friendId"`
	FriendName string    `gorm:"size:32;default:Unknown" json:"friendName"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
