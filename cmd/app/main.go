package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"orderq/internal/api"
	"orderq/internal/cache"
	"orderq/internal/config"
	"orderq/internal/database"
	"orderq/internal/logger"
	"orderq/internal/metrics"
	"orderq/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orderq api: %v\n", err)
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
	log := logger.L().With(zap.String("component", "api"))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := &database.PostgreSQL{URL: cfg.DatabaseURL, MaxConns: cfg.MaxConns, LockTimeout: cfg.LockTimeout}
	pool, err := db.Connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close(pool)
	store := database.NewStore(pool)
	log.Info("connected to PostgreSQL")

	rdb := cache.NewClient(cfg)
	defer rdb.Close()

	redisOpt := tasks.RedisOpt(cfg)
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	dispatcher := tasks.NewDispatcher(client, inspector, cfg.Worker.Retention, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	monitor := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitor",
		RedisConnOpt: redisOpt,
	})
	defer monitor.Close()

	app := api.New(api.Deps{
		Dispatcher: dispatcher,
		Products:   store,
		KV:         store,
		RedisRoundTrip: func(ctx context.Context) (cache.RoundTripResult, error) { return cache.RoundTrip(ctx, rdb) },
		Health: map[string]func(context.Context) error{
			"postgres": store.Ping,
			"redis":    func(ctx context.Context) error { return cache.Ping(ctx, rdb) },
		},
		Metrics: metrics.New(reg),
		Monitor: monitor,
		Log:     log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start Fiber app: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}
