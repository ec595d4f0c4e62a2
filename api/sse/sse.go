package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/friendserver/cache"
	"github.com/kasuganosora/friendserver/config"
	mw "github.com/kasuganosora/friendserver/middleware"
	"github.com/kasuganosora/friendserver/notify"
	"go.uber.org/zap"
)

// Handler handles the SSE endpoint. It is the fallback delivery path for
// clients that cannot hold a WebSocket open: each stream subscribes to the
// caller's per-character notification channel on the pub/sub bus, so events
// arrive regardless of which node produced them.
type Handler struct {
	pubsub cache.PubSub
	c      cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>.
// The token must be character-bound; notifications are addressed to
// characters, not accounts.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if claims.CharID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "no character bound to token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, notify.Channel(claims.CharID))
	if err != nil {
		h.logger.Error("sse subscribe failed",
			zap.String("char_id", claims.CharID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			writeEvent(c, msg.Payload)

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeEvent unwraps the pub/sub envelope into an SSE frame. The envelope's
// event name becomes the SSE event type so clients can addEventListener per
// notification kind.
func writeEvent(c *gin.Context, raw string) {
	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Event == "" {
		// Unknown shape: forward as a generic message event.
		fmt.Fprintf(c.Writer, "data: %s\n\n", raw)
		c.Writer.Flush()
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.Event, env.Payload)
	c.Writer.Flush()
}
