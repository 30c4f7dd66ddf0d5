/**
 * @description
 * This is the main entry point for the drop-payment subscription engine. It is
 * responsible for initializing all components of the service, including
 * configuration, database connection, the Redis client backing locks and the
 * retry queue, the RabbitMQ event producer, repositories, the core application
 * service, the cron scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rugue/forage-stores-backend-sub000/internal/api"
	"github.com/rugue/forage-stores-backend-sub000/internal/app"
	"github.com/rugue/forage-stores-backend-sub000/internal/config"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
	"github.com/rugue/forage-stores-backend-sub000/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env for local development; in deployed environments the variables
	// come from the platform.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis backs the per-subscription locks and the delayed retry queue.
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("unable to parse redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Error("unable to connect to redis", "error", err)
		os.Exit(1)
	}
	cancelPing()
	logger.Info("redis connection established")

	// The event producer degrades to a no-op fallback so the engine keeps
	// settling drops when the broker is down.
	var notifier app.Notifier
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable, using fallback", "error", err)
		notifier = &rabbitmq.FallbackProducer{}
	} else {
		defer producer.Close()
		notifier = producer
		logger.Info("rabbitmq producer connected")
	}

	repository := store.NewPostgresRepository(dbpool)
	locker := app.NewRedisSubscriptionLocker(redisClient, "sublock", time.Duration(cfg.LockTTLSeconds)*time.Second)
	service := app.NewService(repository, notifier, locker, logger)

	retryQueue := app.NewRedisRetryQueue(redisClient, "subscription:retries")
	retries := app.NewRetryCoordinator(retryQueue, service, repository, notifier, cfg.RetryMaxAttempts, logger)
	detector := app.NewConflictDetector(repository, notifier, logger)

	jobs := app.NewJobs(repository, service, retries, detector, notifier, logger)
	scheduler := app.NewScheduler(jobs, logger, *cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	handler := api.NewHandler(service, detector)
	router := api.NewRouter(handler, cfg.JWTSecret)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
