package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/campus/messaging/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection.
// The caller owns the client and must close it.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
