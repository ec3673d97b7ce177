package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/config"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/handler"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/presence"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/room"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/service"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/syncserver"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/database"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/jwt"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/middleware"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-sync",
		InstanceID:  cfg.Backplane.InstanceID,
	})
	logger := log.L()
	l := &logger

	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Str("backplane", cfg.Backplane.Driver).Msg("starting chat sync server")

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		l.Fatal().Err(err).Msg("failed to migrate database")
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		l.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
	}
	l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	ctx, cancel := context.WithCancel(log.WithLogger(context.Background(), logger))
	defer cancel()

	// Initialize Hub and backplane
	wsHub := hub.NewHub()
	go wsHub.Run(ctx)

	bp, err := newBackplane(ctx, cfg, wsHub, redisClient)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize backplane")
	}
	defer bp.Close()

	// Initialize presence
	presenceStore := presence.NewRedisStore(redisClient, presence.Options{
		TTL:       cfg.Presence.TTL,
		TypingTTL: cfg.Presence.TypingTTL,
	})
	heartbeat := presence.NewHeartbeat(presenceStore, wsHub, cfg.Presence.RefreshInterval)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Initialize services
	repo := repository.NewGormRepository(db)
	router := room.NewRouter(wsHub, bp, repo)
	chatSvc := service.NewChatService(repo, presenceStore, bp, router)
	dirCache := cache.NewRedisDirectoryCache(redisClient, cfg.Cache.Prefix)
	defer dirCache.Close()
	syncSrv := syncserver.NewServer(repo, chatSvc, dirCache, syncserver.Options{
		MaxBatch: cfg.Sync.MaxBatch,
		CacheTTL: cfg.Cache.TTL,
	})

	jwtManager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenDuration)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create jwt manager")
	}
	authMiddleware := middleware.NewAuthMiddleware(jwtManager)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), log.GinMiddleware(logger))
	handler.NewHandler(syncSrv, authMiddleware).RegisterRoutes(engine)
	handler.NewWSHandler(wsHub, chatSvc, authMiddleware, cfg.WebSocket).RegisterRoutes(engine)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		l.Info().Str("addr", server.Addr).Msg("chat sync server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down chat sync server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	l.Info().Msg("chat sync server stopped")
}

// newBackplane picks the fan-out driver. local serves a single instance;
// redis and kafka share rooms across instances.
func newBackplane(ctx context.Context, cfg *config.Config, h *hub.Hub, redisClient *redis.Client) (backplane.Backplane, error) {
	var ps pubsub.PubSub
	switch cfg.Backplane.Driver {
	case "local":
		return backplane.NewLocal(h), nil
	case "redis", "":
		ps = pubsub.NewRedisPubSub(redisClient)
	case "kafka":
		k, err := pubsub.NewKafkaPubSub(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		ps = k
	default:
		return nil, fmt.Errorf("unsupported backplane driver: %s", cfg.Backplane.Driver)
	}

	bp := backplane.NewDistributed(h, ps, cfg.Backplane.Channel, cfg.Backplane.InstanceID, cfg.Backplane.Driver)
	go bp.Run(ctx)
	return bp, nil
}
