// Package main runs the live session coordination HTTP server with WebSocket
// signaling and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Thanh14013/E-learning-Website-sub000/config"
	"github.com/Thanh14013/E-learning-Website-sub000/internal/auth"
	"github.com/Thanh14013/E-learning-Website-sub000/internal/livesession"
	"github.com/Thanh14013/E-learning-Website-sub000/internal/middleware"
	"github.com/Thanh14013/E-learning-Website-sub000/internal/notify"
	"github.com/Thanh14013/E-learning-Website-sub000/internal/realtime"
	"github.com/Thanh14013/E-learning-Website-sub000/pkg/database"
	"github.com/Thanh14013/E-learning-Website-sub000/pkg/queue"
	"github.com/Thanh14013/E-learning-Website-sub000/pkg/redis"
	"github.com/Thanh14013/E-learning-Website-sub000/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	repo := livesession.NewRepository(pool)

	// Roster entries left open by a previous crash have no live connection
	// behind them anymore; close them before accepting traffic.
	if closed, err := repo.CloseDanglingRoster(ctx); err != nil {
		logger.Warn("close dangling roster", zap.Error(err))
	} else if closed > 0 {
		logger.Info("closed dangling roster entries", zap.Int64("count", closed))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	admission := realtime.NewAdmission(hub, repo, iceServers, cfg.Session.MaxParticipants, cfg.Session.ChatReplayLimit, logger)
	relay := realtime.NewRelay(hub)
	chat := realtime.NewChat(hub, repo, cfg.Session.ChatHistoryLimit, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notify.NewCourseNotifier(jobQueue)

	svc := livesession.NewService(repo, hub, notifier, cfg.Session.MaxParticipants, logger)
	handler := livesession.NewHandler(svc, repo, hub)

	// Peak participant tracking
	hub.SetOccupancyChangeHandler(func(sessionID uuid.UUID, count int) {
		_ = repo.UpdatePeakParticipants(context.Background(), sessionID, count)
	})

	jwtValidate := func(token string) (uuid.UUID, string, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", "", err
		}
		return claims.UserID, claims.Name, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/live-sessions", middleware.RequireRole("teacher", "admin"), handler.Create)
		api.GET("/live-sessions", handler.ListHosted)
		api.GET("/live-sessions/:id", handler.GetByID)
		api.PATCH("/live-sessions/:id", handler.Update)
		api.DELETE("/live-sessions/:id", handler.Delete)
		api.POST("/live-sessions/:id/start", handler.Start)
		api.POST("/live-sessions/:id/end", handler.End)
		api.POST("/live-sessions/:id/cancel", handler.Cancel)
		api.GET("/live-sessions/:id/eligibility", handler.Eligibility)
		api.GET("/live-sessions/:id/occupancy", handler.Occupancy)
		api.GET("/live-sessions/:id/attendees", handler.Attendees)
		api.GET("/live-sessions/:id/waiting-room", handler.WaitingRoom)

		api.GET("/courses/:id/live-sessions", handler.ListByCourse)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, admission, relay, chat, logger, jwtValidate))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}

	// Background worker (course notification delivery)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Notify.WebhookURL != "" {
		dispatcher := notify.NewDispatcher(jobQueue, cfg.Notify.WebhookURL, logger)
		go dispatcher.Run(workerCtx)
		logger.Info("notification dispatcher started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
