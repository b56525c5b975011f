package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/curriculum-progress-api/api/swagger"
	"github.com/noah-isme/curriculum-progress-api/internal/handler"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	"github.com/noah-isme/curriculum-progress-api/internal/router"
	"github.com/noah-isme/curriculum-progress-api/internal/service"
	"github.com/noah-isme/curriculum-progress-api/pkg/cache"
	"github.com/noah-isme/curriculum-progress-api/pkg/config"
	"github.com/noah-isme/curriculum-progress-api/pkg/database"
	"github.com/noah-isme/curriculum-progress-api/pkg/jobs"
	"github.com/noah-isme/curriculum-progress-api/pkg/logger"
	"github.com/noah-isme/curriculum-progress-api/pkg/storage"
)

// @title Curriculum Progress API
// @version 1.0.0
// @description Student progress ledger, unlock cascade and major gate.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(rootCtx, cfg.Database)
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("database migration failed", zap.Error(err))
		}
	}

	// Redis is optional: without it the catalog is read uncached and events are only logged.
	redisClient, err := cache.NewRedis(rootCtx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache and pub/sub", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	progressRepo := repository.NewProgressRepository(db)
	trackingRepo := repository.NewTrackingLogRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	labRepo := repository.NewLabProgressRepository(db)

	var (
		cacheRepo *repository.CacheRepository
		cacheSvc  *service.CacheService
	)
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled)
	}
	notifier := service.NewNotificationService(repository.NewEventPublisher(redisClient, cfg.Notify.Channel), metrics, logr)

	catalogSvc := service.NewCatalogService(catalogRepo, cacheSvc, cfg.Catalog.CacheTTL, logr)
	// migrations may have changed the curriculum under a warm cache
	if err := catalogSvc.Invalidate(rootCtx); err != nil {
		logr.Warn("catalog cache invalidation failed", zap.Error(err))
	}
	gateSvc := service.NewMajorGateService(studentRepo, catalogSvc, logr)
	trackingSvc := service.NewTrackingLogService(trackingRepo, logr)
	unlockOpts := []service.UnlockOption{
		service.WithUnlockMetrics(metrics),
		service.WithUnlockNotifier(notifier),
	}
	// the queue and the service reference each other; the closures resolve unlockSvc at call time
	var (
		unlockSvc   *service.UnlockService
		unlockQueue *jobs.Queue
	)
	if cfg.Unlock.Async {
		unlockQueue = jobs.NewQueue("unlock-cascade", func(ctx context.Context, job jobs.Job) error {
			return unlockSvc.HandleJob(ctx, job)
		}, jobs.QueueConfig{
			Workers:    cfg.Unlock.Workers,
			MaxRetries: cfg.Unlock.MaxRetries,
			RetryDelay: cfg.Unlock.RetryDelay,
			Logger:     logr,
			OnFailure: func(ctx context.Context, job jobs.Job, err error) {
				unlockSvc.RecordAbandoned(ctx, job, err)
			},
		})
		unlockOpts = append(unlockOpts, service.WithUnlockQueue(unlockQueue))
	}
	unlockSvc = service.NewUnlockService(progressRepo, catalogSvc, studentRepo, trackingSvc, logr, unlockOpts...)
	if unlockQueue != nil {
		unlockQueue.Start(rootCtx)
	}
	progressSvc := service.NewProgressService(progressRepo, catalogSvc, gateSvc, validate, logr, service.ProgressConfig{
		MaxWriteRetries: cfg.Progress.MaxWriteRetries,
		BulkConcurrency: cfg.Progress.BulkConcurrency,
		BulkMaxItems:    cfg.Progress.BulkMaxItems,
	},
		service.WithProgressMetrics(metrics),
		service.WithProgressNotifier(notifier),
		service.WithUnlockDispatcher(unlockSvc),
	)
	labSvc := service.NewLabProgressService(labRepo, catalogSvc, logr)

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("export storage unavailable", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(trackingRepo, files, signer, metrics, validate, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)
	go exportSvc.RunCleanup(rootCtx, cfg.Exports.CleanupInterval)

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Leeway:            30 * time.Second,
	})

	engine := router.Setup(cfg, router.Handlers{
		Progress:    handler.NewProgressHandler(progressSvc, unlockSvc),
		Major:       handler.NewMajorHandler(gateSvc),
		LabProgress: handler.NewLabProgressHandler(labSvc),
		TrackingLog: handler.NewTrackingLogHandler(trackingSvc, exportSvc),
		Catalog:     handler.NewCatalogHandler(catalogSvc),
		Metrics:     handler.NewMetricsHandler(metrics, readinessChecks(db, cacheRepo)),
	}, router.Dependencies{Auth: authSvc, Metrics: metrics, Logger: logr})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.Bool("unlock_async", cfg.Unlock.Async))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	if unlockQueue != nil {
		unlockQueue.Stop()
	}
	logr.Info("server stopped")
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if cacheRepo != nil {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}
