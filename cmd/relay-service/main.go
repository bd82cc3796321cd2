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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"wayfarer-backend/internal/database"
	callHandler "wayfarer-backend/internal/handler/http/call"
	chatHandler "wayfarer-backend/internal/handler/http/chat"
	presenceHandler "wayfarer-backend/internal/handler/http/presence"
	pushHandler "wayfarer-backend/internal/handler/http/push"
	"wayfarer-backend/internal/handler/ws"
	"wayfarer-backend/internal/middleware"
	"wayfarer-backend/internal/repository/cassandra"
	"wayfarer-backend/internal/repository/cockroach"
	natsbus "wayfarer-backend/internal/repository/nats"
	"wayfarer-backend/internal/repository/redis"
	"wayfarer-backend/internal/service/calllog"
	"wayfarer-backend/internal/service/chat"
	"wayfarer-backend/internal/service/presence"
	"wayfarer-backend/internal/service/storage"
	"wayfarer-backend/pkg/config"
	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/jwt"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
	"wayfarer-backend/pkg/push"
)

func main() {
	// .env is optional; real deployments use the environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Databases
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:       cfg.Cassandra.Hosts,
		Keyspace:    cfg.Cassandra.Keyspace,
		Consistency: cfg.Cassandra.Consistency,
		Timeout:     cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra", zap.Strings("hosts", cfg.Cassandra.Hosts))

	pool, err := database.NewCockroachPool(ctx, &database.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host))

	redisDB := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	defer redisDB.Close()
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	// Repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	conversationRepo := cockroach.NewConversationRepository(pool)
	userRepo := cockroach.NewUserRepository(pool)
	callRepo := cockroach.NewCallRepository(pool)
	presenceRepo := redis.NewPresenceRepository(redisDB, cfg.Relay.PresenceTTL)
	tokenRepo := redis.NewPushTokenRepository(redisDB)
	users := cockroach.NewCachedUsers(userRepo, 5*time.Minute, 10000)
	defer users.StartCleanup(time.Minute)()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName, prometheus.DefaultRegisterer)

	// Services
	provider, err := push.NewProvider(ctx, push.ProviderConfig{
		Type:                push.ProviderType(cfg.Push.Provider),
		FirebaseProjectID:   cfg.Push.FirebaseProjectID,
		FirebaseCredentials: cfg.Push.FirebaseCredentials,
		APNs: push.APNsConfig{
			KeyPath:    cfg.Push.APNSKeyPath,
			KeyID:      cfg.Push.APNSKeyID,
			TeamID:     cfg.Push.APNSTeamID,
			Topic:      cfg.Push.APNSTopic,
			Production: cfg.Push.APNSProduction,
		},
	})
	if err != nil {
		logger.Fatal("Failed to init push provider", zap.Error(err))
	}
	pushSvc := push.NewService(provider, tokenRepo, appMetrics)

	minioClient, err := storage.NewMinioClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.UseSSL)
	if err != nil {
		logger.Fatal("Failed to create MinIO client", zap.Error(err))
	}
	storageSvc, err := storage.NewService(minioClient, cfg.MinIO.Bucket, cfg.Chat.AttachmentURLTTL)
	if err != nil {
		logger.Fatal("Failed to init attachment storage", zap.Error(err))
	}

	registry := presence.NewRegistry(nodeID,
		presence.WithMirror(presenceRepo),
		presence.WithStatusStore(userRepo))

	chatSvc := chat.NewService(chat.Config{
		Messages:         messageRepo,
		Conversations:    conversationRepo,
		Attachments:      storageSvc,
		Notifier:         pushSvc,
		Presence:         registry,
		Users:            users,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	})
	callLog := calllog.NewService(callRepo, pushSvc, users)

	// Relay
	hubOpts := []ws.HubOption{ws.WithCallLog(callLog), ws.WithMetrics(appMetrics)}
	switch cfg.Relay.Bus {
	case "redis":
		hubOpts = append(hubOpts, ws.WithBus(redis.NewRelayBus(redisDB, cfg.Relay.BusChannel)))
	case "nats":
		bus, err := natsbus.NewRelayBus(natsbus.Config{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		hubOpts = append(hubOpts, ws.WithBus(bus))
	}

	hub := ws.NewRelayHub(ws.HubConfig{
		NodeID:         nodeID,
		MaxConnections: cfg.Relay.MaxConnections,
		SendBuffer:     cfg.Relay.SendBuffer,
		PingInterval:   cfg.Relay.PingInterval,
		WriteWait:      cfg.Relay.WriteWait,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, registry, chatSvc, hubOpts...)
	chatSvc.SetDeliverer(hub)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal("Failed to subscribe to relay bus", zap.Error(err))
	}
	logger.Info("Relay started", zap.String("node_id", nodeID), zap.String("bus", cfg.Relay.Bus))

	// Router
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, 15*time.Minute)
	revocation := middleware.NewRedisRevocationChecker(redisDB.Client)
	limiter := middleware.NewRateLimiter(redisDB.Client, cfg.Server.RateLimit, cfg.Server.RateWindow, appMetrics)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("Invalid trusted proxies", zap.Error(err))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     cfg.Server.ServiceName,
			"node_id":     nodeID,
			"connections": registry.Count(),
			"redis":       !presenceRepo.IsDegraded(),
			"time":        time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(prometheus.DefaultGatherer))

	chatHdlr := chatHandler.NewHandler(chatSvc)
	callHdlr := callHandler.NewHandler(callLog)
	presenceHdlr := presenceHandler.NewHandler(registry)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocation))
	{
		// The websocket is long-lived; headers, deadline and limiter guard REST only
		v1.GET("/ws", hub.ServeWS)

		api := v1.Group("",
			middleware.SecurityHeaders(cfg.IsProduction()),
			middleware.Timeout(cfg.Server.RequestTimeout),
			limiter.Middleware())
		api.GET("/conversations", chatHdlr.ListConversations)
		api.GET("/conversations/:peer_id/messages", chatHdlr.GetMessages)
		api.POST("/conversations/:peer_id/read", chatHdlr.MarkRead)
		api.POST("/messages", chatHdlr.SendMessage)
		api.GET("/presence/online", presenceHdlr.GetOnline)
		api.GET("/calls/history", callHdlr.GetCallHistory)
		api.POST("/push/tokens", pushHdlr.RegisterToken)
		api.DELETE("/push/tokens", pushHdlr.UnregisterToken)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Relay service listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down relay service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	// Stop accepting first, then drop live connections so peers see them go
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	hub.Shutdown()

	logger.Info("Relay service stopped")
}
