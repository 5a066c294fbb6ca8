package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talkbridge/chat-server/internal/cache"
	"github.com/talkbridge/chat-server/internal/config"
	"github.com/talkbridge/chat-server/internal/handler"
	"github.com/talkbridge/chat-server/internal/hub"
	"github.com/talkbridge/chat-server/internal/middleware"
	"github.com/talkbridge/chat-server/internal/notify"
	"github.com/talkbridge/chat-server/internal/repository"
	"github.com/talkbridge/chat-server/internal/service"
	"github.com/talkbridge/chat-server/pkg/database"
	"github.com/talkbridge/chat-server/pkg/jwt"
	"github.com/talkbridge/chat-server/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	store := repository.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var historyCache cache.HistoryCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisHistoryCache(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		historyCache = redisCache
	}

	var dispatcher notify.Dispatcher = notify.NopDispatcher{}
	if cfg.Push.Enabled {
		fcm, err := notify.NewFCMDispatcher(cfg.Push)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize push dispatcher")
		}
		dispatcher = fcm
	}

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Duration)

	connHub := hub.New()
	chatService := service.NewChatService(connHub, store, dispatcher)
	historyService := service.NewHistoryService(store, historyCache, cfg.History.CacheTTL)

	auth := middleware.NewAuthMiddleware(tokens)
	httpHandler := handler.NewHTTPHandler(chatService, historyService, auth, cfg.History)
	wsHandler := handler.NewWSHandler(connHub, chatService, store, tokens, cfg.WebSocket)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(*logger))

	httpHandler.RegisterRoutes(router)
	wsHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("starting chat server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("server exited")
}
