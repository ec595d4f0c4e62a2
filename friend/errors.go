package friend

import "errors"

// Sentinel errors returned by the friend and friend-request managers.
// API layers map these onto result payloads with errors.Is.
var (
	// Conflict class.
	ErrSelfRequest    = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends = errors.New("already friends")
	ErrRequestPending = errors.New("a friend request is already pending")
	ErrFriendLimit    = errors.New("friend list is full")

	// Not-found class.
	ErrFriendNotFound  = errors.New("friend not found")
	ErrRequestNotFound = errors.New("friend request not found")
)

// IsConflict reports whether err belongs to the conflict class.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSelfRequest) ||
		errors.Is(err, ErrAlreadyFriends) ||
		errors.Is(err, ErrRequestPending) ||
		errors.Is(err, ErrFriendLimit)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFriendNotFound) || errors.Is(err, ErrRequestNotFound)
}
