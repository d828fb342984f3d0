package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"support-chat/internal/config"
	"support-chat/internal/db"
	"support-chat/internal/handlers"
	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/rabbitmq"
	"support-chat/internal/repositories"
	"support-chat/internal/storage"
	"support-chat/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		slog.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	sessionRepo := repositories.NewSessionRepo(database, messageRepo)
	settingsRepo := repositories.NewSettingsRepo(database)
	if err := settingsRepo.EnsureSettings(ctx, models.ChatSettings{
		WhatsAppNumber: cfg.WhatsAppNumber,
		ChatTimeout:    cfg.ChatTimeout,
		ChatEnabled:    cfg.ChatEnabled,
	}); err != nil {
		slog.Error("failed to seed chat settings", "error", err)
		os.Exit(1)
	}

	redisClient := repositories.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if redisClient != nil {
		defer redisClient.Close()
	}
	settings := repositories.NewCachedSettings(settingsRepo, redisClient, cfg.SettingsCacheTTL)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	mode, reason := rabbitmq.Describe(publisher)
	slog.Info("event publisher ready", "mode", mode, "reason", reason)
	events := telemetry.NewEventEmitter(publisher, cfg.ServiceName, cfg.Environment)

	store, err := newStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to init upload storage", "error", err)
		os.Exit(1)
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.AdminIdentity(cfg.AdminToken))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is empty, admin endpoints are disabled")
	}

	handlers.Routes{
		Chat:     handlers.NewChatHandler(sessionRepo, messageRepo, events),
		Upload:   handlers.NewUploadHandler(store, cfg.UploadMaxBytes),
		Settings: handlers.NewSettingsHandler(settings, events),
	}.Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.UploadBackend == "local" {
		router.Static(cfg.UploadBaseURL, cfg.UploadDir)
	}
	handlers.RegisterDebugRoutes(router, events, cfg.Environment == "development")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("support chat listening", "port", cfg.Port, "upload_backend", cfg.UploadBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.UploadBackend == "s3" {
		return storage.NewS3(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return storage.NewLocal(cfg.UploadDir, cfg.UploadBaseURL)
}
