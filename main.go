package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/config"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/handlers"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/logging"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/middleware"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup blocks until storage is reachable; accepting traffic without a
	// database would only turn every request into a 503.
	db, err := database.WaitForConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	campaignRepo := repositories.NewCampaignRepository(db)
	dsRepo := repositories.NewDataSourceRepository(db)
	bindingRepo := repositories.NewBindingRepository(db)
	shardStore := repositories.NewShardStore(db)
	statsRepo := repositories.NewStatsRepository(db)
	messageRepo := repositories.NewMessageRepository(db)

	// Auth
	tokenCache := auth.NewRedisTokenCache(redisClient)
	authService := auth.NewService(cfg.SessionSigningSecret, cfg.SessionTTL, tokenCache)
	authMiddleware := auth.NewMiddleware(authService, logger)

	// Services
	identityService := services.NewIdentityService(userRepo, authService, cfg.Limits, logger)
	registryService := services.NewRegistryService(campaignRepo, bindingRepo, userRepo, dsRepo, statsRepo, logger)
	ingestionService := services.NewIngestionService(shardStore, bindingRepo, cfg.Limits, cfg.Database.InteractiveTimeout, logger)
	queryService := services.NewQueryService(shardStore, bindingRepo, campaignRepo, cfg.Limits, cfg.Database.InteractiveTimeout, cfg.Database.BulkTimeout, logger)
	messagingService := services.NewMessagingService(messageRepo, userRepo, campaignRepo, bindingRepo, logger)

	reconciler := services.NewStatsReconciler(campaignRepo, bindingRepo, shardStore, statsRepo, cfg.Stats, cfg.Database.BulkTimeout, logger)
	archiver := services.NewArchivalService(campaignRepo, bindingRepo, shardStore, cfg.Archival, cfg.Database.BulkTimeout, logger)

	reconciler.RunScheduler(ctx, cfg.Stats.Interval)
	archiver.RunScheduler(ctx, cfg.Archival.Interval)

	// HTTP surface
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(identityService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewCampaignsHandler(registryService, messagingService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDataSourcesHandler(registryService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewRecordsHandler(ingestionService, queryService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewMessagesHandler(messagingService, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("Starting fieldtrace-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
