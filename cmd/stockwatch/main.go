package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/stockwatch"
	"github.com/ariefcatur/go-storefront-orders/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-stockwatch")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stockwatch exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		return errors.New("stockwatch needs KAFKA_BROKERS and REDIS_ADDR")
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-stockwatch", "0.1.0")
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// DB
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &stockwatch.Service{
		Dedup:    redisx.NewDedup(rdb, "stockwatch"),
		Stocks:   postgres.NewStore(pool, postgres.WithLogger(logger)),
		LowStock: redisx.NewLowStock(rdb, cfg.LowStockThreshold),
		Log:      logger,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, orders.TopicOrderEvents, cfg.StockwatchWorkers, logger)
	logger.Info("stockwatch consumer started",
		"group", cfg.StockwatchGroup, "topic", orders.TopicOrderEvents, "workers", cfg.StockwatchWorkers,
		"threshold", cfg.LowStockThreshold)
	return cons.Run(ctx, svc.HandleOrderEvent)
}
