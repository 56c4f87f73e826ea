package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"log/slog"

	"github.com/phutaneomkar/Coin-sub000/internal/config"
	"github.com/phutaneomkar/Coin-sub000/internal/executor"
	"github.com/phutaneomkar/Coin-sub000/internal/handlers"
	"github.com/phutaneomkar/Coin-sub000/internal/pricefeed"
	"github.com/phutaneomkar/Coin-sub000/internal/reconcile"
	"github.com/phutaneomkar/Coin-sub000/internal/scanner"
	"github.com/phutaneomkar/Coin-sub000/internal/service"
	"github.com/phutaneomkar/Coin-sub000/internal/storage"
	"github.com/phutaneomkar/Coin-sub000/libs/health"
	"github.com/phutaneomkar/Coin-sub000/libs/httpmiddleware"
	"github.com/phutaneomkar/Coin-sub000/libs/kafka"
	"github.com/phutaneomkar/Coin-sub000/libs/logging"
	"github.com/phutaneomkar/Coin-sub000/libs/metrics"
	"github.com/phutaneomkar/Coin-sub000/libs/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()

	tradingMetrics := service.NewMetrics(registry)
	scannerMetrics := scanner.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg.DB.DSN())
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool, logger)
	if adminDSN := cfg.DB.AdminDSN(); adminDSN != "" {
		adminPool, err := connectDB(adminDSN)
		if err != nil {
			logger.Error("admin db connection failed", "error", err)
			os.Exit(1)
		}
		defer adminPool.Close()
		store = store.WithAdminPool(adminPool)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	publisher := kafka.Publisher(producer)
	if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
		publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
	}

	httpFeed := pricefeed.NewHTTPFeed(pricefeed.HTTPFeedConfig{
		BaseURL: cfg.Feed.BaseURL,
		Timeout: cfg.Feed.Timeout,
		Logger:  logging.Component(logger, "pricefeed"),
	})
	feed := pricefeed.Feed(pricefeed.NewCachedFeed(httpFeed, redisClient, cfg.Feed.CacheTTL, logger))

	exec := executor.New(store, publisher, cfg.Kafka.Topics.TradesExecuted, cfg.FeeRate, logging.Component(logger, "executor"))
	locked := service.NewCalculator(store, cfg.FeeRate)
	trading := service.NewTradingService(store, locked, feed, exec, publisher, logging.Component(logger, "trading"), tradingMetrics, service.Topics{
		OrdersAccepted:  cfg.Kafka.Topics.OrdersAccepted,
		OrdersCancelled: cfg.Kafka.Topics.OrdersCancelled,
		Trades:          cfg.Kafka.Topics.TradesExecuted,
	}, cfg.FeeRate)

	scan := scanner.New(store, feed, exec, logging.Component(logger, "scanner"), scannerMetrics)
	scheduler := scanner.NewScheduler(scan, cfg.Scanner.Interval, cfg.Scanner.BackoffCeiling, logging.Component(logger, "scheduler"))
	reconciler := reconcile.NewService(store, logging.Component(logger, "reconcile"))

	httpServer := buildHTTPServer(cfg, ready, registry, trading, scan, reconciler, store, logger)

	ready.SetReady(true)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()

	go func() {
		logger.Info("scanner scheduler starting", "interval", cfg.Scanner.Interval.String())
		scheduler.Run(schedulerCtx)
	}()

	go func() {
		logger.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, schedulerCancel, logger)
}

func connectDB(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, trading *service.TradingService, scan *scanner.Scanner, reconciler *reconcile.Service, store *storage.Store, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", ready.LivenessHandler)
	router.GET("/readyz", ready.ReadinessHandler)
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	secret := []byte(cfg.JWTSecret)
	handlers.New(trading, logging.Component(logger, "handlers")).Register(router, secret)
	handlers.NewAdmin(scan, reconciler, store, logging.Component(logger, "admin")).Register(router, secret)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancelScheduler context.CancelFunc, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ready.SetReady(false)
	cancelScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
