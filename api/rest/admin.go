package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/friendserver/friend"
	"github.com/kasuganosora/friendserver/model"
	"github.com/kasuganosora/friendserver/player"
	"github.com/kasuganosora/friendserver/presence"
	"github.com/kasuganosora/friendserver/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin REST endpoints. Routes using it must sit
// behind middleware.AdminAuth.
type AdminHandler struct {
	db        *gorm.DB
	sm        *player.SessionManager
	tracker   *presence.Tracker
	svc       *friend.Service
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
	startedAt time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(db *gorm.DB, sm *player.SessionManager, tracker *presence.Tracker,
	svc *friend.Service, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		db:        db,
		sm:        sm,
		tracker:   tracker,
		svc:       svc,
		scheduler: sched,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Metrics handles GET /api/admin/metrics.
func (h *AdminHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()

	var accounts, characters, friendships, pendingRequests int64
	h.db.Model(&model.Account{}).Count(&accounts)
	h.db.Model(&model.Character{}).Count(&characters)
	h.db.Model(&model.Friendship{}).Count(&friendships)
	h.db.Model(&model.FriendRequest{}).
		Where("status = ?", model.RequestPending).Count(&pendingRequests)

	onlineCount, err := h.tracker.OnlineCount(ctx)
	if err != nil {
		onlineCount = h.sm.Count()
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
		"local_sessions":   h.sm.Count(),
		"online_count":     onlineCount,
		"accounts":         accounts,
		"characters":       characters,
		"friendships":      friendships,
		"pending_requests": pendingRequests,
		"scheduler_tasks":  h.scheduler.ListTickers(),
	})
}

// ListSessions handles GET /api/admin/sessions.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	sessions := h.sm.All()
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"char_id":      s.CharID,
			"char_name":    s.CharName,
			"account_id":   s.AccountID,
			"connected_at": s.ConnectedAt(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
}

// KickCharacter handles POST /api/admin/characters/:id/kick.
func (h *AdminHandler) KickCharacter(c *gin.Context) {
	charID := c.Param("id")
	s := h.sm.Get(charID)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not online"})
		return
	}
	s.Close()
	h.logger.Info("character kicked by admin", zap.String("char_id", charID))
	c.JSON(http.StatusOK, gin.H{"message": "kicked"})
}

type banRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
}

// BanAccount handles POST /api/admin/accounts/ban. Sets the account status
// to banned and kicks all of its online characters.
func (h *AdminHandler) BanAccount(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.db.Model(&model.Account{}).
		Where("id = ?", req.AccountID).Update("status", 0)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	kicked := 0
	for _, s := range h.sm.All() {
		if s.AccountID == req.AccountID {
			s.Close()
			kicked++
		}
	}
	h.logger.Info("account banned",
		zap.Int64("account_id", req.AccountID), zap.Int("kicked", kicked))
	c.JSON(http.StatusOK, gin.H{"message": "banned", "kicked": kicked})
}

// PurgeCharacter handles DELETE /api/admin/characters/:id/social. Removes
// every friendship and request the character appears in, for GDPR-style
// erasure or cleanup after character deletion.
func (h *AdminHandler) PurgeCharacter(c *gin.Context) {
	charID := c.Param("id")
	if err := h.svc.ClearCharacterData(c.Request.Context(), charID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("character social data purged", zap.String("char_id", charID))
	c.JSON(http.StatusOK, gin.H{"message": "purged"})
}

// ExpireRequests handles POST /api/admin/requests/expire. Manually runs the
// stale-request sweep that the scheduler runs periodically.
func (h *AdminHandler) ExpireRequests(c *gin.Context) {
	ttlStr := c.DefaultQuery("ttl", "24h")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
		return
	}
	n, err := h.svc.Requests().ExpireStale(c.Request.Context(), ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
