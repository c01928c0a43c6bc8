package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const testKey = "test_key"

func (s *server) redisRoundTrip(c *fiber.Ctx) error {
	res, err := s.RedisRoundTrip(c.UserContext())
	if err != nil {
		s.Log.Warn("redis round trip failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"source": "redis", "value": res.Value, "elapsed_seconds": res.Elapsed})
}

// A missing key is still a successful lookup and reports a null value.
func (s *server) postgresLookup(c *fiber.Ctx) error {
	start := time.Now()
	value, ok, err := s.KV.KV(c.UserContext(), testKey)
	if err != nil {
		s.Log.Warn("postgres lookup failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	var v any
	if ok {
		v = value
	}
	return c.JSON(fiber.Map{"source": "postgres", "value": v, "elapsed_seconds": time.Since(start).Seconds()})
}
