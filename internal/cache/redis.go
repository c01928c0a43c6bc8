// Package cache owns the go-redis client shared by the /redis round trip and the
// notification publisher.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orderq/internal/config"
)

const testKey = "test_key"

func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func Ping(ctx context.Context, client redis.Cmdable) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

type RoundTripResult struct {
	Value   string  `json:"value"`
	Elapsed float64 `json:"elapsed_seconds"`
}

// RoundTrip writes test_key and reads it back, timing both calls.
func RoundTrip(ctx context.Context, client redis.Cmdable) (RoundTripResult, error) {
	start := time.Now()
	if err := client.Set(ctx, testKey, "Hello from Redis!", 0).Err(); err != nil {
		return RoundTripResult{}, fmt.Errorf("redis set %s: %w", testKey, err)
	}
	val, err := client.Get(ctx, testKey).Result()
	if err != nil {
		return RoundTripResult{}, fmt.Errorf("redis get %s: %w", testKey, err)
	}
	return RoundTripResult{Value: val, Elapsed: time.Since(start).Seconds()}, nil
}
