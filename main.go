package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dm-service/internal/config"
	"dm-service/internal/db"
	"dm-service/internal/fanout"
	"dm-service/internal/handlers"
	"dm-service/internal/middleware"
	"dm-service/internal/moderation"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/ratelimit"
	"dm-service/internal/repositories"
	"dm-service/internal/security"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, "dm-service", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	codec, err := security.NewCodecFromHex(cfg.MessageKeyHex)
	if err != nil {
		log.Fatalf("invalid message key: %v", err)
	}
	filter := moderation.NewFilter()

	var (
		tracker presence.Tracker
		memory  *presence.MemoryTracker
		limiter *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		tracker = presence.NewRedisTracker(redisClient, 0)
		limiter = ratelimit.NewLimiter(redisClient)
	} else {
		log.Printf("no redis configured, typing presence is in-memory and sends are unlimited")
		memory = presence.NewMemoryTracker(0)
		tracker = memory
		limiter = ratelimit.NewLimiter(nil)
	}

	connRepo := repositories.NewConnectionRepo(database)
	sessionRepo := repositories.NewSessionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	directory := repositories.NewUserDirectoryRepo(database)

	hub := fanout.NewHub()
	broadcaster := fanout.NewBroadcaster(hub, sessionRepo, messageRepo, tracker, codec)
	bridge := fanout.NewBridge(cfg.NATSURL, broadcaster.ApplyRemote)
	defer bridge.Close()
	broadcaster.SetBridge(bridge)
	if memory != nil {
		memory.OnExpire(func(sessionID, _ int) {
			broadcaster.SessionChanged(context.Background(), sessionID)
		})
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, "dm-service", cfg.Environment)

	if cfg.AMQPURL != "" {
		eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("ws event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventsPublisher)
			defer eventsPublisher.Close()
		}
	}

	connectionHandler := handlers.NewConnectionHandler(connRepo, directory, audit)
	sessionHandler := handlers.NewSessionHandler(sessionRepo, connRepo, messageRepo, directory, tracker, broadcaster, audit)
	messageHandler := handlers.NewMessageHandler(sessionRepo, messageRepo, codec, filter, limiter, broadcaster, audit)
	sessionWS := ws.NewSessionWebSocketHandler(hub, broadcaster, sessionRepo, directory, []byte(cfg.JWTSecret))

	router := gin.Default()
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth([]byte(cfg.JWTSecret))

	router.POST("/connections", auth, connectionHandler.Request)
	router.GET("/connections", auth, connectionHandler.List)
	router.POST("/connections/:connection_id/accept", auth, connectionHandler.Accept)
	router.DELETE("/connections/:connection_id", auth, connectionHandler.Remove)

	router.POST("/sessions", auth, sessionHandler.Open)
	router.GET("/sessions", auth, sessionHandler.List)
	router.GET("/sessions/:session_id", auth, sessionHandler.Get)
	router.POST("/sessions/:session_id/typing", auth, sessionHandler.SetTyping)
	router.GET("/sessions/:session_id/pins", auth, sessionHandler.ListPins)
	router.POST("/sessions/:session_id/pins", auth, sessionHandler.Pin)
	router.DELETE("/sessions/:session_id/pins/:message_id", auth, sessionHandler.Unpin)

	router.GET("/sessions/:session_id/messages", auth, messageHandler.List)
	router.POST("/sessions/:session_id/messages", auth, messageHandler.Send)
	router.POST("/sessions/:session_id/messages/:message_id/reactions", auth, messageHandler.React)
	router.POST("/sessions/:session_id/messages/:message_id/read", auth, messageHandler.MarkRead)
	router.DELETE("/sessions/:session_id/messages/:message_id", auth, messageHandler.Delete)

	router.GET("/ws/sessions/:session_id", sessionWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
