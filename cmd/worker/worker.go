package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"orderq/internal/cache"
	"orderq/internal/config"
	"orderq/internal/database"
	"orderq/internal/logger"
	"orderq/internal/metrics"
	"orderq/internal/notify"
	"orderq/internal/order"
	"orderq/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orderq worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.ServiceName, cfg.LogLevel); err != nil {
		return err
	}
	log := logger.L().With(zap.String("component", "worker"))
	defer func() { _ = log.Sync() }()

	db := &database.PostgreSQL{URL: cfg.DatabaseURL, MaxConns: cfg.MaxConns, LockTimeout: cfg.LockTimeout}
	pool, err := db.Connect(context.Background())
	if err != nil {
		return err
	}
	defer db.Close(pool)
	store := database.NewStore(pool)

	redisOpt := tasks.RedisOpt(cfg)
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	dispatcher := tasks.NewDispatcher(client, inspector, cfg.Worker.Retention, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	go func() {
		if err := metricsApp.Listen(cfg.Worker.MetricsAddr); err != nil {
			log.Error("metrics listener stopped", zap.Error(err))
		}
	}()
	defer func() { _ = metricsApp.Shutdown() }()

	var notifier tasks.Notifier = notify.NewLog(log)
	if cfg.NotifySink == "redis" {
		rdb := cache.NewClient(cfg)
		defer rdb.Close()
		notifier = notify.NewRedis(rdb, log)
	}

	processor := order.NewProcessor(store, dispatcher,
		order.WithRetryPolicy(order.RetryPolicy{Attempts: cfg.Order.RetryAttempts, Delay: cfg.Order.RetryDelay}),
		order.WithPaymentDelay(cfg.Order.PaymentDelay),
		order.WithLogger(log),
		order.WithObserver(m),
	)

	handlers := &tasks.Handlers{
		Processor:    processor,
		Orders:       store,
		Notifier:     notifier,
		Log:          log,
		ProcessDelay: cfg.Worker.ProcessDelay,
	}
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Queues:          tasks.Queues,
		ShutdownTimeout: cfg.Worker.ShutdownGrace,
		Logger:          log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			m.TaskFailed(t.Type())
			id, _ := asynq.GetTaskID(ctx)
			queue, _ := asynq.GetQueueName(ctx)
			entry := logger.WithTask(log, id, queue, t.Type())
			if errors.Is(err, asynq.SkipRetry) {
				entry.Info("task finished without retry", zap.Error(err))
				return
			}
			entry.Warn("task failed", zap.Error(err))
		}),
	})

	log.Info("worker started",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("notify_sink", cfg.NotifySink),
		zap.String("metrics_addr", cfg.Worker.MetricsAddr),
	)
	// Run blocks until SIGTERM or SIGINT
	if err := srv.Run(mux); err != nil {
		return fmt.Errorf("could not run server: %w", err)
	}
	return nil
}
