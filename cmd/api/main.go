package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/memstore"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/telemetry"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, version)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, mp, err := telemetry.InitMeterProvider(cfg.ServiceName, version)
	if err != nil {
		return err
	}
	defer func() { _ = mp.Shutdown(context.Background()) }()
	metrics, err := telemetry.NewMetrics(mp)
	if err != nil {
		return err
	}

	// Store
	var (
		store orders.Store
		ping  func(context.Context) error
	)
	switch cfg.StoreDriver {
	case "memory":
		mem := memstore.New()
		if err := seedDemo(ctx, mem); err != nil {
			return err
		}
		logger.Warn("using in-memory store, data is lost on exit")
		store = mem
	default:
		if cfg.MigrateOnStart {
			if err := migrateUp(cfg.PostgresDSN, logger); err != nil {
				return err
			}
		}
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.NewStore(pool,
			postgres.WithTxTimeout(cfg.TxTimeout),
			postgres.WithTxRetries(cfg.TxRetries),
			postgres.WithLogger(logger),
		)
		store, ping = pg, pg.Ping
	}

	opts := []orders.Option{orders.WithLogger(logger), orders.WithRecorder(metrics)}

	// Kafka producer
	if len(cfg.KafkaBrokers) > 0 {
		prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger)
		prod.Start(ctx)
		defer prod.WaitClosed()
		defer prod.Close()
		opts = append(opts, orders.WithEvents(kafkax.NewEventPublisher(prod, cfg.ServiceName)))
	}

	svc := orders.NewService(store, cfg.Statuses, opts...)
	oh := &httpx.OrdersHandler{Orders: svc, Log: logger}

	// Redis
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		oh.Cache = redisx.NewOrderCache(rdb, cfg.OrderCacheTTL, logger)
		oh.Idem = redisx.NewIdempotency(rdb, redisx.TTLIdempotency)
		oh.LowStock = redisx.NewLowStock(rdb, cfg.LowStockThreshold)
	}

	router := httpx.NewRouter(metricsHandler, ping)
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func migrateUp(dsn string, logger *slog.Logger) error {
	m, err := postgres.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	changed, err := m.Up()
	if err != nil {
		return err
	}
	logger.Info("migrations checked", "applied", changed)
	return nil
}
