package friend

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/friendserver/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RequestManager owns all FriendRequest records. Resolved requests are
// retained for history; only pending ones count toward the pending total.
type RequestManager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRequestManager creates a RequestManager.
func NewRequestManager(db *gorm.DB, logger *zap.Logger) *RequestManager {
	return &RequestManager{db: db, logger: logger}
}

// Send creates a pending request from→to. At most one pending request may
// exist per ordered pair; a duplicate send fails with ErrRequestPending
// rather than superseding the original.
func (rm *RequestManager) Send(ctx context.Context, fromID, fromName, toID, toName string) (*model.FriendRequest, error) {
	if fromID == toID {
		return nil, ErrSelfRequest
	}
	if fromName == "" {
		fromName = DefaultFriendName
	}
	if toName == "" {
		toName = DefaultFriendName
	}

	var req *model.FriendRequest
	err := rm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.FriendRequest{}).
			Where("from_id = ? AND to_id = ? AND status = ?", fromID, toID, model.RequestPending).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrRequestPending
		}
		req = &model.FriendRequest{
			FromID:   fromID,
			FromName: fromName,
			ToID:     toID,
			ToName:   toName,
			Status:   model.RequestPending,
		}
		return tx.Create(req).Error
	})
	if err != nil {
		return nil, err
	}
	rm.logger.Info("friend request sent",
		zap.String("from_id", fromID),
		zap.String("to_id", toID))
	return req, nil
}

// Received returns all requests addressed to charID, newest first, every
// status included so clients can render history.
func (rm *RequestManager) Received(ctx context.Context, charID string) ([]model.FriendRequest, error) {
	var reqs []model.FriendRequest
	err := rm.db.WithContext(ctx).
		Where("to_id = ?", charID).
		Order("created_at DESC, id DESC").
		Find(&reqs).Error
	return reqs, err
}

// Sent returns all requests authored by charID, newest first.
func (rm *RequestManager) Sent(ctx context.Context, charID string) ([]model.FriendRequest, error) {
	var reqs []model.FriendRequest
	err := rm.db.WithContext(ctx).
		Where("from_id = ?", charID).
		Order("created_at DESC, id DESC").
		Find(&reqs).Error
	return reqs, err
}

// Find returns the pending request for the ordered pair, or ErrRequestNotFound.
func (rm *RequestManager) Find(ctx context.Context, fromID, toID string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := rm.db.WithContext(ctx).
		Where("from_id = ? AND to_id = ? AND status = ?", fromID, toID, model.RequestPending).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Accept transitions the pending request to accepted and materializes both
// friendship directions in the same transaction; a half-accepted request
// would leave the relationship one-sided. Fails with ErrRequestNotFound if
// no pending request exists, which also covers the double-accept race: the
// guarded UPDATE flips exactly one row.
func (rm *RequestManager) Accept(ctx context.Context, fromID, toID string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := rm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("from_id = ? AND to_id = ? AND status = ?", fromID, toID, model.RequestPending).
			First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", req.ID, model.RequestPending).
			Updates(map[string]interface{}{
				"status":       model.RequestAccepted,
				"responded_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestNotFound
		}
		req.Status = model.RequestAccepted
		req.RespondedAt = &now

		// Sender's record caches the recipient's name and vice versa.
		pairs := []model.Friendship{
			{CharID: req.FromID, FriendID: req.ToID, FriendName: req.ToName},
			{CharID: req.ToID, FriendID: req.FromID, FriendName: req.FromName},
		}
		for _, f := range pairs {
			var count int64
			if err := tx.Model(&model.Friendship{}).
				Where("char_id = ? AND friend_id = ?", f.CharID, f.FriendID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			f := f
			if err := tx.Create(&f).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rm.logger.Info("friend request accepted",
		zap.String("from_id", fromID),
		zap.String("to_id", toID))
	return &req, nil
}

// Reject transitions the pending request to rejected. No friendship side
// effect. Fails with ErrRequestNotFound if no pending request exists.
func (rm *RequestManager) Reject(ctx context.Context, fromID, toID string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := rm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("from_id = ? AND to_id = ? AND status = ?", fromID, toID, model.RequestPending).
			First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", req.ID, model.RequestPending).
			Updates(map[string]interface{}{
				"status":       model.RequestRejected,
				"responded_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestNotFound
		}
		req.Status = model.RequestRejected
		req.RespondedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	rm.logger.Info("friend request rejected",
		zap.String("from_id", fromID),
		zap.String("to_id", toID))
	return &req, nil
}

// PendingCount returns the number of unresolved requests addressed to charID.
func (rm *RequestManager) PendingCount(ctx context.Context, charID string) (int64, error) {
	var count int64
	err := rm.db.WithContext(ctx).
		Model(&model.FriendRequest{}).
		Where("to_id = ? AND status = ?", charID, model.RequestPending).
		Count(&count).Error
	return count, err
}

// ExpireStale rejects pending requests older than ttl. Run periodically by
// the scheduler; returns how many requests were expired.
func (rm *RequestManager) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-ttl)
	now := time.Now()
	res := rm.db.WithContext(ctx).
		Model(&model.FriendRequest{}).
		Where("status = ? AND created_at < ?", model.RequestPending, cutoff).
		Updates(map[string]interface{}{
			"status":       model.RequestRejected,
			"responded_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		rm.logger.Info("stale friend requests expired",
			zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Clear removes every request referencing charID, sent or received.
func (rm *RequestManager) Clear(ctx context.Context, charID string) (int64, error) {
	res := rm.db.WithContext(ctx).
		Where("from_id = ? OR to_id = ?", charID, charID).
		Delete(&model.FriendRequest{})
	return res.RowsAffected, res.Error
}
