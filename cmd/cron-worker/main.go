package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stockroom-hq/stockroom-backend/internal/creditledger"
	"github.com/stockroom-hq/stockroom-backend/internal/cron"
	"github.com/stockroom-hq/stockroom-backend/internal/fulfillment"
	"github.com/stockroom-hq/stockroom-backend/internal/orderstate"
	"github.com/stockroom-hq/stockroom-backend/internal/routing"
	"github.com/stockroom-hq/stockroom-backend/pkg/config"
	"github.com/stockroom-hq/stockroom-backend/pkg/db"
	"github.com/stockroom-hq/stockroom-backend/pkg/directory"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
	"github.com/stockroom-hq/stockroom-backend/pkg/metrics"
	"github.com/stockroom-hq/stockroom-backend/pkg/migrate"
	"github.com/stockroom-hq/stockroom-backend/pkg/outbox"
	"github.com/stockroom-hq/stockroom-backend/pkg/redis"
)

const lockKeyFormat = "stockroom:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	directoryClient, err := directory.NewClient(
		cfg.Directory.BaseURL,
		directory.WithAPIKey(cfg.Directory.APIKey),
		directory.WithTimeout(cfg.Directory.Timeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create supplier directory client", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)
	routingRepo := routing.NewRepository(dbClient.DB())

	ordersSvc, err := orderstate.NewService(orderstate.NewRepository(dbClient.DB()), dbClient, outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order state service", err)
		os.Exit(1)
	}

	creditSvc, err := creditledger.NewService(creditledger.NewRepository(dbClient.DB()), dbClient, outboxSvc, logg, cfg.Ledger)
	if err != nil {
		logg.Error(context.Background(), "failed to create credit ledger service", err)
		os.Exit(1)
	}

	routingSvc, err := routing.NewService(routingRepo, directoryClient, dbClient, outboxSvc, logg, cfg.Routing)
	if err != nil {
		logg.Error(context.Background(), "failed to create routing service", err)
		os.Exit(1)
	}

	fulfillmentSvc, err := fulfillment.NewService(ordersSvc, creditSvc, routingSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewBroadcastExpiryJob(cron.BroadcastExpiryJobParams{
		Logger:      logg,
		Reader:      routingRepo,
		Fulfillment: fulfillmentSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create broadcast expiry job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, retentionJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
