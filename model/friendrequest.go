package model

import "time"

// Friend request status values.
const (
	RequestPending  = 0
	RequestAccepted = 1
	RequestRejected = 2
)

// FriendRequest is a directed proposal from FromID to ToID.
// At most one pending row may exist per (from_id, to_id) pair; resolved
// rows are kept for the sent/received history listings.
type FriendRequest struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	FromID      string     `gorm:"index:idx_request_from;size:36;not null" json:"fromId"`
	FromName    string     `gorm:"size:32;default:Unknown" json:"fromName"`
	ToID        string     `gorm:"index:idx_request_to;size:36;not null" json:"toId"`
	ToName      string     `gorm:"size:32;default:Unknown" json:"toName"`
	Status      int        `gorm:"default:0" json:"status"` // 0=pending 1=accepted 2=rejected
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt"`
}

// StatusText returns the human-readable form of Status. The JSON `status`
// field carries the raw int (0=pending 1=accepted 2=rejected); this is a
// display helper, not the wire encoding.
func (r *FriendRequest) StatusText() string {
	switch r.Status {
	case RequestAccepted:
		return "accepted"
	case RequestRejected:
		return "rejected"
	default:
		return "pending"
	}
}
