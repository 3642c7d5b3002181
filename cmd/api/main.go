package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/stockroom-hq/stockroom-backend/api/routes"
	"github.com/stockroom-hq/stockroom-backend/internal/creditledger"
	"github.com/stockroom-hq/stockroom-backend/internal/fulfillment"
	"github.com/stockroom-hq/stockroom-backend/internal/orderstate"
	"github.com/stockroom-hq/stockroom-backend/internal/routing"
	"github.com/stockroom-hq/stockroom-backend/pkg/config"
	"github.com/stockroom-hq/stockroom-backend/pkg/db"
	"github.com/stockroom-hq/stockroom-backend/pkg/directory"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
	"github.com/stockroom-hq/stockroom-backend/pkg/migrate"
	"github.com/stockroom-hq/stockroom-backend/pkg/outbox"
	"github.com/stockroom-hq/stockroom-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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

	routingSvc, err := routing.NewService(routing.NewRepository(dbClient.DB()), directoryClient, dbClient, outboxSvc, logg, cfg.Routing)
	if err != nil {
		logg.Error(context.Background(), "failed to create routing service", err)
		os.Exit(1)
	}

	fulfillmentSvc, err := fulfillment.NewService(ordersSvc, creditSvc, routingSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, routes.Services{
			Orders:      ordersSvc,
			Credit:      creditSvc,
			Routing:     routingSvc,
			Fulfillment: fulfillmentSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
