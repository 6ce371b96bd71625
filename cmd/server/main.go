package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "github.com/traveltour/important-info-api/api/swagger"
	"github.com/traveltour/important-info-api/internal/directory"
	"github.com/traveltour/important-info-api/internal/handler"
	"github.com/traveltour/important-info-api/internal/push"
	"github.com/traveltour/important-info-api/internal/repository"
	"github.com/traveltour/important-info-api/internal/router"
	"github.com/traveltour/important-info-api/internal/service"
	"github.com/traveltour/important-info-api/pkg/cache"
	"github.com/traveltour/important-info-api/pkg/config"
	"github.com/traveltour/important-info-api/pkg/database"
	"github.com/traveltour/important-info-api/pkg/logger"
	"github.com/traveltour/important-info-api/pkg/storage"
)

// @title Important Info API
// @version 1.0.0
// @description Announcement broadcast service with per-user read/delete state and live notifications
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	files, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	announcementRepo := repository.NewAnnouncementRepository(db)
	notificationRepo := repository.NewNotificationRepository(db, logr)

	// A disabled cache keeps the repository but detaches the client; every
	// lookup then misses and falls through to the ledgers.
	cacheClient := redisClient
	if !cfg.Cache.Enabled {
		cacheClient = nil
	}
	cacheRepo := repository.NewCacheRepository(cacheClient, logr)

	metricsService := service.NewMetricsService()
	gateway := push.NewGateway(redisClient, metricsService, logr)
	roster := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Timeout, logr)

	authService := service.NewAuthService(logr, service.AuthConfig{Secret: cfg.JWT.Secret})
	uploadService := service.NewUploadService(files, signer, service.UploadConfig{
		MaxFileSizeBytes:   cfg.Uploads.MaxFileSizeBytes,
		MaxFilesPerRequest: cfg.Uploads.MaxFilesPerReq,
		AllowedMIMEs:       cfg.Uploads.AllowedMIMEs,
	}, logr)

	announcementService := service.NewAnnouncementService(announcementRepo, notificationRepo, cacheRepo, files, gateway, metricsService, logr, cfg.Cache.UnreadTTL)
	notificationService := service.NewNotificationService(notificationRepo, cacheRepo, gateway, logr)
	fanoutService := service.NewFanoutService(announcementRepo, notificationRepo, roster, gateway, cacheRepo, metricsService, nil, logr, service.FanoutConfig{
		Workers:          cfg.Fanout.Workers,
		QueueSize:        cfg.Fanout.QueueSize,
		MaxRetries:       cfg.Fanout.MaxRetries,
		RetryDelay:       cfg.Fanout.RetryDelay,
		DirectoryTimeout: cfg.Fanout.DirectoryTimeout,
		StatusTTL:        cfg.Fanout.StatusTTL,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fanoutService.Start(rootCtx)
	defer fanoutService.Stop()

	engine := router.New(router.Deps{
		Config:        cfg,
		Logger:        logr,
		Auth:          authService,
		Metrics:       metricsService,
		Announcements: handler.NewAnnouncementHandler(fanoutService, announcementService, uploadService),
		Notifications: handler.NewNotificationHandler(notificationService),
		Uploads:       handler.NewUploadHandler(uploadService),
		Events:        handler.NewEventsHandler(gateway, metricsService),
		Health:        handler.NewMetricsHandler(metricsService),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown", "error", err)
	}
}
