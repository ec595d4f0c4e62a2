package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/friendserver/cache"
	"github.com/kasuganosora/friendserver/player"
	"go.uber.org/zap"
)

// Event names delivered to clients.
const (
	EventFriendRequestReceived = "friendRequestReceived"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRequestRejected = "friendRequestRejected"
	EventFriendRemoved         = "friendRemoved"
)

// ChannelPrefix is the pub/sub channel prefix for per-character notifications.
const ChannelPrefix = "notify:"

// Channel returns the pub/sub channel name for a character.
func Channel(charID string) string {
	return ChannelPrefix + charID
}

// Router delivers an event payload to a character's active channel.
// Returns whether a live connection received it; offline characters are a no-op.
type Router interface {
	Deliver(ctx context.Context, charID, event string, payload interface{}) bool
}

// SessionRouter routes notifications to connected WebSocket sessions and
// mirrors every event onto the pub/sub bus so SSE streams (and other nodes)
// can pick them up.
type SessionRouter struct {
	sm     *player.SessionManager
	ps     cache.PubSub
	logger *zap.Logger
}

// NewSessionRouter creates a SessionRouter.
func NewSessionRouter(sm *player.SessionManager, ps cache.PubSub, logger *zap.Logger) *SessionRouter {
	return &SessionRouter{sm: sm, ps: ps, logger: logger}
}

// envelope is the wire shape published on the pub/sub bus.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sent_at"`
}

// Deliver sends the event to the character if connected. Delivery is
// best-effort: failures are logged and never propagate to the caller.
func (r *SessionRouter) Deliver(ctx context.Context, charID, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("notify payload marshal failed",
			zap.String("event", event),
			zap.String("char_id", charID),
			zap.Error(err))
		return false
	}

	if r.ps != nil {
		env, _ := json.Marshal(envelope{Event: event, Payload: data, SentAt: time.Now().UnixMilli()})
		if err := r.ps.Publish(ctx, Channel(charID), string(env)); err != nil {
			r.logger.Warn("notify publish failed",
				zap.String("char_id", charID),
				zap.Error(err))
		}
	}

	sess := r.sm.Get(charID)
	if sess == nil {
		return false
	}
	sess.Send(&player.Packet{Type: event, Payload: data})
	return true
}
