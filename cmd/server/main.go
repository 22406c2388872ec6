package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	notificationapp "github.com/campus/messaging/internal/application/notification"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/infrastructure/auth"
	"github.com/campus/messaging/internal/infrastructure/cache"
	"github.com/campus/messaging/internal/infrastructure/config"
	"github.com/campus/messaging/internal/infrastructure/event"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/infrastructure/persistence"
	"github.com/campus/messaging/internal/infrastructure/push"
	"github.com/campus/messaging/internal/infrastructure/storage"
	"github.com/campus/messaging/internal/infrastructure/telemetry"
	"github.com/campus/messaging/internal/interfaces/http/handler"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/campus/messaging/internal/interfaces/http/router"
	"github.com/campus/messaging/internal/interfaces/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const wsPath = "/ws"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Service:    cfg.App.Name,
		Node:       cfg.Realtime.NodeID,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)

	log.Info("Starting campus messaging",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	// Telemetry is a no-op when disabled
	tel, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.GormLevel))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		tracingCfg := telemetry.DefaultDBTracingConfig()
		tracingCfg.Enabled = true
		if err := telemetry.NewDBTracingPlugin(tracingCfg, log).RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}
	log.Info("Database connected successfully")

	// Presence, history cache and cross-node fan-out
	stores, err := cache.NewStoreFactory(cfg, cache.WithLogger(log)).CreateStores()
	if err != nil {
		log.Fatal("Failed to initialize presence stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing presence stores", zap.Error(err))
		}
	}()

	// Live delivery goes through Redis when it is shared, so an event reaches
	// the node holding the connection
	hub := realtime.NewHub(log)
	var live messaging.LiveChannel = hub
	if stores.Fanout != nil {
		live = stores.Fanout
		ready := make(chan struct{})
		go func() {
			if err := stores.Fanout.Subscribe(rootCtx, hub.Emit, ready); err != nil {
				log.Error("Realtime fan-out stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			log.Warn("Realtime fan-out subscription not confirmed")
		}
	}

	// Repositories
	conversationRepo := persistence.NewGormConversationRepository(db.DB)
	messageRepo := persistence.NewGormMessageRepository(db.DB)
	notificationRepo := persistence.NewGormNotificationRepository(db.DB)

	// Push notifications run on a worker pool so sends never wait on the gateway
	var pushGateway *push.GatewayClient
	if cfg.Push.Enabled {
		pushGateway = push.NewGatewayClient(cfg.Push.Endpoint, cfg.Push.APIKey, cfg.Push.Timeout)
	}
	dispatcher := push.NewDispatcher(push.DispatcherConfig{
		Workers:   cfg.Delivery.PushWorkers,
		QueueSize: cfg.Delivery.PushQueueSize,
		Timeout:   cfg.Delivery.PushTimeout,
	}, push.NewNotifier(notificationRepo, pushGateway, log), log)
	if err := dispatcher.Start(rootCtx); err != nil {
		log.Fatal("Failed to start push dispatcher", zap.Error(err))
	}

	// Domain events feed the messaging metrics
	eventBus := event.NewBus(log)
	metrics, err := telemetry.NewMessagingMetrics(tel.Meter("campus-messaging"), stores.Presence, log)
	if err != nil {
		log.Fatal("Failed to initialize messaging metrics", zap.Error(err))
	}
	eventBus.Subscribe(metrics)

	// Application services
	conversationService := messagingapp.NewConversationService(conversationRepo, eventBus, log)
	deliveryService := messagingapp.NewDeliveryService(messagingapp.DeliveryDeps{
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Presence:      stores.Presence,
		Cache:         stores.History,
		Live:          live,
		Notifier:      dispatcher,
	},
		messagingapp.WithDeliveryConfig(messagingapp.DeliveryConfig{
			PersistTimeout:  cfg.Delivery.PersistTimeout,
			HistoryTTL:      cfg.Cache.HistoryTTL,
			DefaultPageSize: cfg.Cache.DefaultPageSize,
			MaxPageSize:     cfg.Cache.MaxPageSize,
		}),
		messagingapp.WithEventPublisher(eventBus),
		messagingapp.WithSendObserver(metrics),
		messagingapp.WithDeliveryLogger(log),
	)
	presenceService := messagingapp.NewPresenceService(stores.Presence, conversationService, live, log)
	notificationService := notificationapp.NewService(notificationRepo, log)

	// Attachments presign against S3-compatible storage, or a local stub
	var objectStorage messagingapp.ObjectStorage = storage.NewStubObjectStorage()
	if cfg.Storage.Enabled {
		s3Storage, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to configure object storage", zap.Error(err))
		}
		bucketCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		if err := s3Storage.EnsureBucket(bucketCtx); err != nil {
			log.Warn("Attachment bucket check failed", zap.String("bucket", cfg.Storage.Bucket), zap.Error(err))
		}
		cancel()
		objectStorage = s3Storage
	}
	attachmentService := messagingapp.NewAttachmentService(objectStorage, messagingapp.AttachmentConfig{
		UploadURLExpiry:   cfg.Storage.PresignExpiration,
		DownloadURLExpiry: cfg.Storage.DownloadExpiration,
		MaxSize:           cfg.Storage.MaxUploadSize,
		PublicBaseURL:     cfg.Storage.PublicBaseURL,
	}, log)

	// Token verification shares the revocation list across nodes when Redis is up
	var revoked auth.RevocationList = auth.NewInMemoryRevocationList()
	if stores.Distributed() {
		revoked = auth.NewRedisRevocationListWithClient(stores.Client())
	}
	verifier := auth.NewVerifier(auth.NewJWTService(cfg.JWT), revoked)

	gateway := realtime.NewGateway(hub, verifier,
		realtime.Services{Delivery: deliveryService, Presence: presenceService},
		realtime.Config{
			NodeID:          cfg.Realtime.NodeID,
			ReadTimeout:     cfg.Realtime.ReadTimeout,
			WriteTimeout:    cfg.Realtime.WriteTimeout,
			PingPeriod:      cfg.Realtime.PingPeriod,
			MaxMessageSize:  cfg.Realtime.MaxMessageSize,
			SendBuffer:      cfg.Realtime.SendBuffer,
			EventsPerSecond: cfg.Realtime.EventsPerSecond,
			EventBurst:      cfg.Realtime.EventBurst,
			AllowedOrigins:  cfg.Realtime.AllowedOrigins,
		},
		realtime.WithLogger(log),
		realtime.WithConnectionObserver(metrics),
	)

	// HTTP engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies", zap.Error(err))
	}

	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
			SkipPaths:   []string{"/health", wsPath},
		}),
		middleware.SpanErrorMarker(),
		middleware.CORS(middleware.CORSConfig{
			AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
			AllowMethods:     cfg.HTTP.CORSAllowMethods,
			AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		middleware.Secure(),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			Telemetry: tel,
			Enabled:   cfg.Telemetry.Enabled,
			SkipPaths: []string{"/health", wsPath},
		}),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.Pinger{
		"database": db,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			if client := stores.Client(); client != nil {
				return client.Ping(ctx).Err()
			}
			return nil
		}),
	})
	engine.GET("/health", systemHandler.Health)
	engine.GET(wsPath, gateway.ServeWS)

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)
	defer limiter.Stop()

	groups := router.Groups(router.Handlers{
		System:        systemHandler,
		Conversations: handler.NewConversationHandler(conversationService),
		Messages:      handler.NewMessageHandler(deliveryService),
		Presence:      handler.NewPresenceHandler(presenceService),
		Notifications: handler.NewNotificationHandler(notificationService),
		Attachments:   handler.NewAttachmentHandler(attachmentService),
	})
	r := router.New(engine)
	r.Use(
		middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			Verifier:  verifier,
			SkipPaths: r.PublicPaths(groups...),
			Logger:    log,
		}),
		middleware.TracingAttributeInjector(),
		middleware.RateLimitByKey(limiter, middleware.UserOrIPKey),
	)
	r.Mount(groups...)

	// Create HTTP server with config. WriteTimeout does not apply to hijacked
	// websocket connections.
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// hijacked connections are not tracked by Shutdown
	gateway.Close()

	if err := dispatcher.Stop(ctx); err != nil {
		log.Warn("Push dispatcher did not drain", zap.Error(err))
	}
	if err := eventBus.Stop(ctx); err != nil {
		log.Warn("Event bus did not stop cleanly", zap.Error(err))
	}
	if err := metrics.Close(); err != nil {
		log.Warn("Failed to release messaging metrics", zap.Error(err))
	}
	stopRoot()

	if err := tel.Shutdown(ctx); err != nil {
		log.Warn("Telemetry shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
