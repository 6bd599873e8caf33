package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/shenikar/emergency_dispatch_system/internal/config"
	v1 "github.com/shenikar/emergency_dispatch_system/internal/handler/http/v1"
	"github.com/shenikar/emergency_dispatch_system/internal/lock"
	"github.com/shenikar/emergency_dispatch_system/internal/metrics"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/internal/repository"
	"github.com/shenikar/emergency_dispatch_system/internal/scheduler"
	"github.com/shenikar/emergency_dispatch_system/internal/selector"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
	"github.com/shenikar/emergency_dispatch_system/internal/webhook"
	"github.com/shenikar/emergency_dispatch_system/internal/ws"
	"github.com/shenikar/emergency_dispatch_system/pkg/logger"
	"github.com/shenikar/emergency_dispatch_system/pkg/postgres"
	redisclient "github.com/shenikar/emergency_dispatch_system/pkg/redis"
	"github.com/sirupsen/logrus"

	_ "github.com/shenikar/emergency_dispatch_system/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Emergency Dispatch System API
// @version 1.0
// @description Incident lifecycle and responder dispatch API server.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
	}

	m, err := migrate.New(cfg.MigrationsPath, migrationURL)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

func newLocker(cfg *config.Config, redisClient *redis.Client, log *logrus.Logger) lock.Locker {
	if cfg.LockBackend == config.LockRedis {
		log.Info("Using Redis incident locks")
		return lock.NewRedisLocker(redisClient, cfg.LockTTL, log)
	}
	log.Info("Using in-process incident locks")
	return lock.NewMemoryLocker()
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	log := logger.New(cfg.LogLevel)

	// Контекст для graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Запуск миграций
	if err := runMigrations(cfg, log); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Подключение к PostgreSQL
	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()
	log.Info("Successfully connected to PostgreSQL")

	// Инициализация Redis клиента
	redisClient, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	// Websocket-хаб получает события этого и других инстансов через Redis pub/sub
	hub := ws.NewHub(log, cfg.WSOriginPatterns)
	subscriber := notify.NewSubscriber(redisClient, cfg.EventsChannel, hub, log)

	publishers := notify.Fanout{notify.NewRedisPublisher(redisClient, cfg.EventsChannel)}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, webhook.NewRedisWebhookPublisher(redisClient, cfg.WebhookEvents))
	}
	webhookWorker := webhook.NewWebhookWorker(redisClient, log, cfg)

	// Инициализация репозиториев
	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient, cfg.IncidentCacheTTL)
	userRepo := repository.NewUserRepository(dbpool)

	// Инициализация сервисов
	candidateSelector := selector.New(userRepo, cfg.SpecialistMinimum)
	incidentService := service.NewIncidentService(incidentRepo, userRepo, candidateSelector, newLocker(cfg, redisClient, log), publishers, log, cfg)
	responderService := service.NewResponderService(userRepo, incidentRepo, publishers, log, cfg)

	// Напоминания о неподтвержденных назначениях
	cron := scheduler.NewCron(log, cfg.StoreTimeout*4)
	if _, err := cron.Add("stale_assignments", cfg.WatchdogSchedule, func(ctx context.Context) error {
		_, err := incidentService.NotifyStaleAssignments(ctx)
		return err
	}); err != nil {
		log.Fatalf("Failed to schedule assignment watchdog: %v", err)
	}

	// Инициализация хэндлеров
	handler := v1.NewHandler(incidentService, responderService, hub, log, cfg)

	// Настройка Gin роутера
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), metrics.Middleware())
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	// Метрики и Swagger UI
	router.GET("/metrics", metrics.Handler())
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return subscriber.Start(gctx) })
	g.Go(func() error { return webhookWorker.Start(gctx) })
	g.Go(func() error { return cron.Run(gctx) })
	g.Go(func() error {
		log.Infof("HTTP server started on port %s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Received shutdown signal, shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		hub.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server gracefully stopped")
}
