package friend

import (
	"context"

	"github.com/kasuganosora/friendserver/model"
	"github.com/kasuganosora/friendserver/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service orchestrates the friendship and request managers and fans out
// real-time notifications to the affected parties. Store mutation always
// completes before the derived notification is emitted, so a notified
// client re-fetching its list sees the new state.
type Service struct {
	friends  *Manager
	requests *RequestManager
	router   notify.Router
	logger   *zap.Logger
}

// NewService creates the friend Service.
func NewService(db *gorm.DB, maxFriends int, router notify.Router, logger *zap.Logger) *Service {
	return &Service{
		friends:  NewManager(db, maxFriends, logger),
		requests: NewRequestManager(db, logger),
		router:   router,
		logger:   logger,
	}
}

// Friends exposes the friendship manager for read paths that bypass
// orchestration (REST mirror, admin).
func (s *Service) Friends() *Manager { return s.friends }

// Requests exposes the request manager (scheduler sweep, admin).
func (s *Service) Requests() *RequestManager { return s.requests }

// FriendList returns all friendships owned by charID.
func (s *Service) FriendList(ctx context.Context, charID string) ([]model.Friendship, error) {
	return s.friends.List(ctx, charID)
}

// AddFriend creates the one-directional record directly, bypassing the
// request flow. Exposed as a primitive for trusted callers.
func (s *Service) AddFriend(ctx context.Context, charID, friendID, friendName string) (*model.Friendship, error) {
	return s.friends.Add(ctx, charID, friendID, friendName)
}

// RemoveFriend removes the caller's directional record and tells the former
// friend, best-effort. The reciprocal record is untouched.
func (s *Service) RemoveFriend(ctx context.Context, charID, friendID string) error {
	if err := s.friends.Remove(ctx, charID, friendID); err != nil {
		return err
	}
	s.router.Deliver(ctx, friendID, notify.EventFriendRemoved, map[string]interface{}{
		"charId": charID,
	})
	return nil
}

// SearchFriends matches the owner's friend display names, case-insensitive.
func (s *Service) SearchFriends(ctx context.Context, charID, query string) ([]model.Friendship, error) {
	return s.friends.Search(ctx, charID, query)
}

// FriendCount returns the number of friendships owned by charID.
func (s *Service) FriendCount(ctx context.Context, charID string) (int64, error) {
	return s.friends.Count(ctx, charID)
}

// IsFriend reports whether charID has friendID in its list.
func (s *Service) IsFriend(ctx context.Context, charID, friendID string) (bool, error) {
	return s.friends.IsFriend(ctx, charID, friendID)
}

// SendRequest creates a pending request and notifies the addressee with the
// request and their refreshed pending count. Fails with ErrAlreadyFriends
// when the sender already has the target in its list.
func (s *Service) SendRequest(ctx context.Context, fromID, fromName, toID, toName string) (*model.FriendRequest, error) {
	if fromID == toID {
		return nil, ErrSelfRequest
	}
	already, err := s.friends.IsFriend(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrAlreadyFriends
	}

	req, err := s.requests.Send(ctx, fromID, fromName, toID, toName)
	if err != nil {
		return nil, err
	}

	pending, err := s.requests.PendingCount(ctx, toID)
	if err != nil {
		s.logger.Warn("pending count after send failed",
			zap.String("to_id", toID), zap.Error(err))
		pending = 0
	}
	s.router.Deliver(ctx, toID, notify.EventFriendRequestReceived, map[string]interface{}{
		"request":      req,
		"pendingCount": pending,
	})
	return req, nil
}

// ReceivedRequests returns requests addressed to charID, newest first.
func (s *Service) ReceivedRequests(ctx context.Context, charID string) ([]model.FriendRequest, error) {
	return s.requests.Received(ctx, charID)
}

// SentRequests returns requests authored by charID, newest first.
func (s *Service) SentRequests(ctx context.Context, charID string) ([]model.FriendRequest, error) {
	return s.requests.Sent(ctx, charID)
}

// AcceptRequest resolves the pending request, materializes both friendship
// directions in one transaction, and notifies both parties with their own
// refreshed friend list.
func (s *Service) AcceptRequest(ctx context.Context, fromID, toID string) (*model.FriendRequest, error) {
	req, err := s.requests.Accept(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}

	for _, charID := range []string{req.FromID, req.ToID} {
		list, err := s.friends.List(ctx, charID)
		if err != nil {
			s.logger.Warn("friend list after accept failed",
				zap.String("char_id", charID), zap.Error(err))
			continue
		}
		s.router.Deliver(ctx, charID, notify.EventFriendRequestAccepted, map[string]interface{}{
			"request":    req,
			"friendList": list,
		})
	}
	return req, nil
}

// RejectRequest resolves the pending request as rejected and notifies the
// original sender.
func (s *Service) RejectRequest(ctx context.Context, fromID, toID string) (*model.FriendRequest, error) {
	req, err := s.requests.Reject(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	s.router.Deliver(ctx, req.FromID, notify.EventFriendRequestRejected, map[string]interface{}{
		"request": req,
	})
	return req, nil
}

// PendingRequestCount returns the number of unresolved requests addressed
// to charID.
func (s *Service) PendingRequestCount(ctx context.Context, charID string) (int64, error) {
	return s.requests.PendingCount(ctx, charID)
}

// ClearCharacterData removes every friendship and request referencing
// charID. Used when a character is deleted.
func (s *Service) ClearCharacterData(ctx context.Context, charID string) error {
	if _, err := s.friends.Clear(ctx, charID); err != nil {
		return err
	}
	if _, err := s.requests.Clear(ctx, charID); err != nil {
		return err
	}
	return nil
}
