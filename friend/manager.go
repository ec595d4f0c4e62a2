package friend

import (
	"context"
	"strings"

	"github.com/kasuganosora/friendserver/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultFriendName is cached when the caller supplies no display name.
const DefaultFriendName = "Unknown"

// Manager owns all Friendship records. Each record is one direction of the
// relationship; removal is one-directional as well.
type Manager struct {
	db         *gorm.DB
	maxFriends int
	logger     *zap.Logger
}

// NewManager creates a friendship Manager. maxFriends <= 0 disables the cap.
func NewManager(db *gorm.DB, maxFriends int, logger *zap.Logger) *Manager {
	return &Manager{db: db, maxFriends: maxFriends, logger: logger}
}

// List returns all friendships owned by charID, oldest first.
func (m *Manager) List(ctx context.Context, charID string) ([]model.Friendship, error) {
	var friends []model.Friendship
	err := m.db.WithContext(ctx).
		Where("char_id = ?", charID).
		Order("created_at ASC, id ASC").
		Find(&friends).Error
	return friends, err
}

// Add creates the charID→friendID record. Returns ErrAlreadyFriends if the
// record exists and ErrFriendLimit when the owner's list is at capacity.
// friendID is not checked against the character table; callers that need
// that guarantee resolve the character first.
func (m *Manager) Add(ctx context.Context, charID, friendID, friendName string) (*model.Friendship, error) {
	if friendName == "" {
		friendName = DefaultFriendName
	}

	exists, err := m.IsFriend(ctx, charID, friendID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyFriends
	}

	if m.maxFriends > 0 {
		count, err := m.Count(ctx, charID)
		if err != nil {
			return nil, err
		}
		if count >= int64(m.maxFriends) {
			return nil, ErrFriendLimit
		}
	}

	f := &model.Friendship{
		CharID:     charID,
		FriendID:   friendID,
		FriendName: friendName,
	}
	if err := m.db.WithContext(ctx).Create(f).Error; err != nil {
		return nil, err
	}
	m.logger.Info("friendship created",
		zap.String("char_id", charID),
		zap.String("friend_id", friendID))
	return f, nil
}

// Remove deletes the charID→friendID record only. The reciprocal record
// stays until its owner removes it. Returns ErrFriendNotFound when no
// record existed.
func (m *Manager) Remove(ctx context.Context, charID, friendID string) error {
	res := m.db.WithContext(ctx).
		Where("char_id = ? AND friend_id = ?", charID, friendID).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFriendNotFound
	}
	m.logger.Info("friendship removed",
		zap.String("char_id", charID),
		zap.String("friend_id", friendID))
	return nil
}

// Search returns the owner's friendships whose cached display name or
// friend id contains query, case-insensitive.
func (m *Manager) Search(ctx context.Context, charID, query string) ([]model.Friendship, error) {
	var friends []model.Friendship
	pattern := "%" + strings.ToLower(query) + "%"
	err := m.db.WithContext(ctx).
		Where("char_id = ? AND (LOWER(friend_name) LIKE ? OR LOWER(friend_id) LIKE ?)",
			charID, pattern, pattern).
		Order("created_at ASC, id ASC").
		Find(&friends).Error
	return friends, err
}

// Count returns the number of friendships owned by charID.
func (m *Manager) Count(ctx context.Context, charID string) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("char_id = ?", charID).
		Count(&count).Error
	return count, err
}

// IsFriend reports whether the charID→friendID record exists.
func (m *Manager) IsFriend(ctx context.Context, charID, friendID string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("char_id = ? AND friend_id = ?", charID, friendID).
		Count(&count).Error
	return count > 0, err
}

// Clear removes every friendship record referencing charID, both the
// records it owns and the records pointing at it. Used when a character
// is deleted.
func (m *Manager) Clear(ctx context.Context, charID string) (int64, error) {
	res := m.db.WithContext(ctx).
		Where("char_id = ? OR friend_id = ?", charID, charID).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return 0, res.Error
	}
	m.logger.Info("friendships cleared",
		zap.String("char_id", charID),
		zap.Int64("removed", res.RowsAffected))
	return res.RowsAffected, nil
}
