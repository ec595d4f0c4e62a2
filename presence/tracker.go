package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kasuganosora/friendserver/cache"
	"github.com/kasuganosora/friendserver/cache/local"
	cacheredis "github.com/kasuganosora/friendserver/cache/redis"
	"go.uber.org/zap"
)

const (
	onlineSetKey = "presence:online"
	lastSeenHash = "presence:last_seen"
)

// Tracker records which characters are online. Backed by the shared cache so
// every node (and the REST read path) sees the same view.
type Tracker struct {
	cache  cache.Cache
	logger *zap.Logger
}

// NewTracker creates a presence Tracker.
func NewTracker(c cache.Cache, logger *zap.Logger) *Tracker {
	return &Tracker{cache: c, logger: logger}
}

// SetOnline marks the character online and stamps last-seen.
func (t *Tracker) SetOnline(ctx context.Context, charID string) error {
	if err := t.cache.SAdd(ctx, onlineSetKey, charID); err != nil {
		return err
	}
	return t.touch(ctx, charID)
}

// SetOffline marks the character offline, keeping the last-seen stamp.
func (t *Tracker) SetOffline(ctx context.Context, charID string) error {
	if err := t.touch(ctx, charID); err != nil {
		t.logger.Warn("presence last-seen update failed",
			zap.String("char_id", charID), zap.Error(err))
	}
	return t.cache.SRem(ctx, onlineSetKey, charID)
}

// IsOnline reports whether the character is currently online.
func (t *Tracker) IsOnline(ctx context.Context, charID string) (bool, error) {
	return t.cache.SIsMember(ctx, onlineSetKey, charID)
}

// OnlineStatus resolves the online flag for a batch of character IDs.
func (t *Tracker) OnlineStatus(ctx context.Context, charIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(charIDs))
	for _, id := range charIDs {
		online, err := t.cache.SIsMember(ctx, onlineSetKey, id)
		if err != nil {
			return nil, err
		}
		out[id] = online
	}
	return out, nil
}

// OnlineCount returns the number of characters currently online.
func (t *Tracker) OnlineCount(ctx context.Context) (int, error) {
	members, err := t.cache.SMembers(ctx, onlineSetKey)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// LastSeen returns when the character was last online, or zero time if never.
func (t *Tracker) LastSeen(ctx context.Context, charID string) (time.Time, error) {
	v, err := t.cache.HGet(ctx, lastSeenHash, charID)
	if err != nil {
		if errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (t *Tracker) touch(ctx context.Context, charID string) error {
	return t.cache.HSet(ctx, lastSeenHash, charID,
		strconv.FormatInt(time.Now().UnixMilli(), 10))
}
