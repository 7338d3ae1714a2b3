package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/chronoshq/chronos-api/api/swagger"
	"github.com/chronoshq/chronos-api/internal/handler"
	"github.com/chronoshq/chronos-api/internal/middleware"
	"github.com/chronoshq/chronos-api/internal/recurrence"
	"github.com/chronoshq/chronos-api/internal/repository"
	"github.com/chronoshq/chronos-api/internal/service"
	"github.com/chronoshq/chronos-api/pkg/cache"
	"github.com/chronoshq/chronos-api/pkg/config"
	"github.com/chronoshq/chronos-api/pkg/database"
	"github.com/chronoshq/chronos-api/pkg/jobs"
	"github.com/chronoshq/chronos-api/pkg/logger"
	corsmiddleware "github.com/chronoshq/chronos-api/pkg/middleware/cors"
	reqidmiddleware "github.com/chronoshq/chronos-api/pkg/middleware/requestid"
	filestore "github.com/chronoshq/chronos-api/pkg/storage"
)

// @title Chronos Calendar API
// @version 1.0.0
// @description Calendar subsystem: events, recurrence, scheduling, free/busy
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching and broker disabled", zap.Error(err))
		redisClient = nil
	}

	store := repository.NewStorage(db)
	folders := repository.NewFolderRepository(db)
	entities := repository.NewCalendarUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	broker := repository.NewSchedulingBroker(redisClient, "", logr)

	recur := recurrence.NewService(cfg.Chronos.MaxOccurrences)
	metrics := service.NewMetricsService()

	scheduling := service.NewSchedulingService(broker, jobs.QueueConfig{
		Workers:    cfg.Scheduling.Workers,
		BufferSize: cfg.Scheduling.BufferSize,
	}, logr)

	events := service.NewEventService(store, recur, folders, entities, scheduling, nil, logr)
	split := service.NewSplitService(store, recur, folders, nil, logr)
	move := service.NewMoveService(store, recur, folders, entities, scheduling, nil, logr)
	organizer := service.NewOrganizerService(store, entities, scheduling, nil, logr)
	freebusy := service.NewFreeBusyService(store, recur, entities,
		&meteredCache{inner: cacheRepo, metrics: metrics}, cfg.FreeBusy, nil, logr)
	importer := service.NewImportService(store, recur, folders, entities, cfg.Import, logr)
	maintenance := service.NewMaintenanceService(store, cfg.Maintenance, metrics, logr)

	files, err := filestore.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Fatal("failed to prepare export directory", zap.Error(err))
	}
	signer := filestore.NewSignedURLSigner(cfg.JWT.Secret, cfg.Export.DownloadTTL)
	exporter := service.NewExportService(events, files, signer, logr)

	defaultStrategy, err := service.ParseUIDConflictStrategy(cfg.Import.DefaultUIDConflictStrategy)
	if err != nil {
		logr.Warn("unknown default uid conflict strategy, using THROW",
			zap.String("strategy", cfg.Import.DefaultUIDConflictStrategy))
		defaultStrategy = service.StrategyThrow
	}

	eventHandler := handler.NewEventHandler(events, split, move, organizer, metrics)
	freeBusyHandler := handler.NewFreeBusyHandler(freebusy)
	importHandler := handler.NewImportHandler(importer, metrics, defaultStrategy, logr)
	exportHandler := handler.NewExportHandler(exporter, files, signer)
	metricsHandler := handler.NewMetricsHandler(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduling.Start(ctx)
	defer scheduling.Stop()
	if err := maintenance.Start(); err != nil {
		logr.Fatal("failed to start maintenance job", zap.Error(err))
	}
	defer maintenance.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/snapshot", metricsHandler.Snapshot)
	r.GET("/downloads", exportHandler.Download)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		api.POST("/events", eventHandler.Create)
		api.GET("/events/:id", eventHandler.Get)
		api.PATCH("/events/:id", eventHandler.Update)
		api.DELETE("/events/:id", eventHandler.Delete)
		api.POST("/events/:id/split", eventHandler.Split)
		api.POST("/events/:id/move", eventHandler.Move)
		api.POST("/events/:id/organizer", eventHandler.ChangeOrganizer)

		api.GET("/folders/:folderId/events", eventHandler.List)
		api.GET("/folders/:folderId/tombstones", eventHandler.Tombstones)
		api.POST("/folders/:folderId/import", importHandler.Import)

		api.POST("/freebusy", freeBusyHandler.Query)
		api.POST("/export/agenda", exportHandler.Agenda)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("forced shutdown", zap.Error(err))
	}
}

// meteredCache wraps the free/busy cache so hits and misses surface in the
// Prometheus counters.
type meteredCache struct {
	inner   *repository.CacheRepository
	metrics *service.MetricsService
}

func (c *meteredCache) Get(ctx context.Context, key string, dest interface{}) error {
	err := c.inner.Get(ctx, key, dest)
	c.metrics.RecordFreeBusyQuery(err == nil)
	return err
}

func (c *meteredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.inner.Set(ctx, key, value, ttl)
}
