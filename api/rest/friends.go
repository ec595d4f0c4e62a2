package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/friendserver/friend"
	mw "github.com/kasuganosora/friendserver/middleware"
	"github.com/kasuganosora/friendserver/model"
	"github.com/kasuganosora/friendserver/presence"
)

// FriendHandler exposes a read-only HTTP mirror of the social state. All
// mutations go through the WebSocket surface; these endpoints exist for
// web clients and tooling that only need to look.
type FriendHandler struct {
	svc     *friend.Service
	tracker *presence.Tracker
}

// NewFriendHandler creates a new FriendHandler.
func NewFriendHandler(svc *friend.Service, tracker *presence.Tracker) *FriendHandler {
	return &FriendHandler{svc: svc, tracker: tracker}
}

// friendInfo is a friendship row decorated with presence.
type friendInfo struct {
	model.Friendship
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// List handles GET /api/friends.
func (h *FriendHandler) List(c *gin.Context) {
	charID := mw.GetCharID(c)
	if charID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no character bound to token"})
		return
	}

	ctx := c.Request.Context()
	rows, err := h.svc.FriendList(ctx, charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ids := make([]string, len(rows))
	for i, f := range rows {
		ids[i] = f.FriendID
	}
	status, err := h.tracker.OnlineStatus(ctx, ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]friendInfo, len(rows))
	for i, f := range rows {
		info := friendInfo{Friendship: f, Online: status[f.FriendID]}
		if !info.Online {
			if seen, err := h.tracker.LastSeen(ctx, f.FriendID); err == nil && !seen.IsZero() {
				info.LastSeen = &seen
			}
		}
		out[i] = info
	}

	c.JSON(http.StatusOK, gin.H{"friends": out, "count": len(out)})
}

// Received handles GET /api/friends/requests/received.
func (h *FriendHandler) Received(c *gin.Context) {
	h.listRequests(c, h.svc.ReceivedRequests)
}

// Sent handles GET /api/friends/requests/sent.
func (h *FriendHandler) Sent(c *gin.Context) {
	h.listRequests(c, h.svc.SentRequests)
}

func (h *FriendHandler) listRequests(c *gin.Context,
	fetch func(ctx context.Context, charID string) ([]model.FriendRequest, error)) {
	charID := mw.GetCharID(c)
	if charID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no character bound to token"})
		return
	}
	reqs, err := fetch(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs, "count": len(reqs)})
}

// PendingCount handles GET /api/friends/requests/pending-count.
func (h *FriendHandler) PendingCount(c *gin.Context) {
	charID := mw.GetCharID(c)
	if charID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no character bound to token"})
		return
	}
	n, err := h.svc.PendingRequestCount(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// Search handles GET /api/friends/search?q=.
func (h *FriendHandler) Search(c *gin.Context) {
	charID := mw.GetCharID(c)
	if charID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no character bound to token"})
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	rows, err := h.svc.SearchFriends(c.Request.Context(), charID, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": rows, "count": len(rows)})
}
