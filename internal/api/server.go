// Package api is the HTTP front of orderq: it validates requests, hands work to
// the task queue and reports task state. It never touches order rows itself.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"orderq/internal/cache"
	"orderq/internal/metrics"
	"orderq/internal/order"
	"orderq/internal/tasks"
)

type Dispatcher interface {
	EnqueueOrder(ctx context.Context, req order.Request, key string) (string, error)
	Status(ctx context.Context, taskID string) (tasks.Status, error)
	EnqueueData(ctx context.Context, data json.RawMessage) (string, error)
	DataStatus(ctx context.Context, taskID string) (tasks.Status, error)
}

type ProductCreator interface {
	CreateProduct(ctx context.Context, p order.Product) (order.Product, error)
}

type KVReader interface {
	KV(ctx context.Context, key string) (string, bool, error)
}

type Deps struct {
	Dispatcher Dispatcher
	Products   ProductCreator
	KV         KVReader
	RedisRoundTrip func(ctx context.Context) (cache.RoundTripResult, error)
	// Health checks run by /healthz, keyed by dependency name.
	Health  map[string]func(ctx context.Context) error
	Metrics *metrics.Metrics
	// Monitor is mounted under /monitor when set.
	Monitor http.Handler
	Log     *zap.Logger
}

type server struct {
	Deps
}

func New(d Deps) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &server{Deps: d}

	app := fiber.New(fiber.Config{
		AppName:      "orderq",
		ErrorHandler: s.errorHandler,
	})
	app.Use(s.requestLog)

	if d.Monitor != nil {
		app.Use("/monitor", adaptor.HTTPHandler(d.Monitor))
	}
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("orderq")
	})
	app.Get("/healthz", s.healthz)
	app.Get("/redis", s.redisRoundTrip)
	app.Get("/postgres", s.postgresLookup)

	v1 := app.Group("/api/v1")
	v1.Post("/orders", s.createOrder)
	v1.Get("/orders/tasks/:id", s.orderStatus)
	v1.Post("/products", s.createProduct)
	v1.Post("/process", s.createDataJob)
	v1.Get("/process/:id", s.dataStatus)

	return app
}

func (s *server) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	elapsed := time.Since(start)

	status := c.Response().StatusCode()
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	route := c.Route().Path
	if s.Metrics != nil {
		s.Metrics.ObserveRequest(c.Method(), route, status, elapsed)
	}
	s.Log.Info("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
	)
	return err
}

func (s *server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
		msg = fe.Message
	} else {
		s.Log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func (s *server) healthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.Health))
	healthy := true
	for name, check := range s.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": checks})
}
