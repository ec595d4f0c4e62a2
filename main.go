package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/friendserver/api/rest"
	"github.com/kasuganosora/friendserver/api/sse"
	apows "github.com/kasuganosora/friendserver/api/ws"
	"github.com/kasuganosora/friendserver/audit"
	"github.com/kasuganosora/friendserver/cache"
	"github.com/kasuganosora/friendserver/config"
	dbadapter "github.com/kasuganosora/friendserver/db"
	"github.com/kasuganosora/friendserver/friend"
	mw "github.com/kasuganosora/friendserver/middleware"
	"github.com/kasuganosora/friendserver/model"
	"github.com/kasuganosora/friendserver/notify"
	"github.com/kasuganosora/friendserver/player"
	"github.com/kasuganosora/friendserver/presence"
	"github.com/kasuganosora/friendserver/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Sessions / Presence / Notifications ----
	sm := player.NewSessionManager(logger)
	defer sm.CloseAllSessions()
	tracker := presence.NewTracker(c, logger)
	notifyRouter := notify.NewSessionRouter(sm, pubsub, logger)

	// ---- Friend Service ----
	friendSvc := friend.NewService(db, cfg.Social.MaxFriends, notifyRouter, logger)

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("friend_request_sweep", cfg.Social.RequestSweep, func() {
		n, err := friendSvc.Requests().ExpireStale(context.Background(), cfg.Social.RequestTTL)
		if err != nil {
			logger.Error("friend request sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("expired stale friend requests", zap.Int64("count", n))
		}
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	fh := apows.NewFriendHandlers(friendSvc, auditSvc, logger)
	fh.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	charH := apirest.NewCharacterHandler(db, c, cfg.Security)
	friendH := apirest.NewFriendHandler(friendSvc, tracker)
	adminH := apirest.NewAdminHandler(db, sm, tracker, friendSvc, sched, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		charsG := api.Group("/characters")
		charsG.Use(mw.Auth(cfg.Security, c))
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.POST("/:id/select", charH.Select)

		friendsG := api.Group("/friends")
		friendsG.Use(mw.Auth(cfg.Security, c))
		friendsG.GET("", friendH.List)
		friendsG.GET("/search", friendH.Search)
		friendsG.GET("/requests/received", friendH.Received)
		friendsG.GET("/requests/sent", friendH.Sent)
		friendsG.GET("/requests/pending-count", friendH.PendingCount)

		adminG := api.Group("/admin")
		adminG.Use(mw.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/sessions", adminH.ListSessions)
		adminG.POST("/characters/:id/kick", adminH.KickCharacter)
		adminG.POST("/accounts/ban", adminH.BanAccount)
		adminG.DELETE("/characters/:id/social", adminH.PurgeCharacter)
		adminG.POST("/requests/expire", adminH.ExpireRequests)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(db, c, cfg.Security, sm, tracker, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
