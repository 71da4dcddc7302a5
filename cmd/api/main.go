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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mekongcart/api/internal/di"
	"github.com/mekongcart/api/internal/handlers"
	"github.com/mekongcart/api/internal/platform/config"
	"github.com/mekongcart/api/internal/platform/database"
	"github.com/mekongcart/api/internal/platform/idempotency"
	"github.com/mekongcart/api/internal/platform/jobs"
	"github.com/mekongcart/api/internal/platform/observability"
	"github.com/mekongcart/api/internal/repositories/postgres"
	"github.com/mekongcart/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.Open(cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	registry, err := postgres.NewRegistry(db)
	if err != nil {
		logger.Fatal("failed to build repository registry", zap.Error(err))
	}
	defer func() {
		if err := registry.Close(ctx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	var publisher services.OrderEventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := jobs.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("failed to build kafka writer", zap.Error(err))
		}
		kafkaPublisher, err := jobs.NewKafkaOrderEventPublisher(writer)
		if err != nil {
			logger.Fatal("failed to build order event publisher", zap.Error(err))
		}
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka writer close error", zap.Error(err))
			}
		}()
		publisher = kafkaPublisher
		logger.Info("order event publishing enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	container, err := di.NewContainer(cfg, di.ContainerDeps{
		Repositories: registry,
		Publisher:    publisher,
		Clock:        time.Now,
		Logger:       observability.EventLogger(logger),
	})
	if err != nil {
		logger.Fatal("failed to assemble container", zap.Error(err))
	}
	defer func() {
		if err := container.Close(ctx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idemStore, redisClient := newIdempotencyStore(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	health := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("postgres", registry.Health().Ping),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(container.Services.PaymentReturns)

	router := handlers.NewRouter(
		handlers.WithHealthHandlers(health),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceContextMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(idempotency.Middleware(idemStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(orderHandlers.AdminRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-shutdown:
		logger.Info("shutdown signal received; draining requests", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed; forcing close", zap.Error(err))
		_ = server.Close()
	}
	logger.Info("server stopped")
}

// newIdempotencyStore prefers Redis so replicas share replay state, falling
// back to the in-process store when no Redis address is configured.
func newIdempotencyStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (idempotency.Store, *redis.Client) {
	if cfg.Redis.Addr == "" {
		logger.Info("idempotency store: using in-memory store")
		return idempotency.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable; falling back to in-memory idempotency store", zap.Error(err))
		_ = client.Close()
		return idempotency.NewMemoryStore(), nil
	}

	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		logger.Warn("redis idempotency store unavailable; using in-memory store", zap.Error(err))
		_ = client.Close()
		return idempotency.NewMemoryStore(), nil
	}
	logger.Info("idempotency store: using redis", zap.String("addr", cfg.Redis.Addr))
	return store, client
}
