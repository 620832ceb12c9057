package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/infermed/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient connects to Redis. ttl bounds bundle entries; zero keeps them
// until evicted by Redis.
func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

// Wrap uses an existing go-redis client.
func Wrap(client *redis.Client, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Name() string { return "redis" }

func bundleKey(key, version string) string {
	return fmt.Sprintf("bundle:%s:%s", version, key)
}

func (c *Client) Get(ctx context.Context, key, version string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, bundleKey(key, version)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get bundle: %w", err)
	}

	logger.Debug("Bundle cache hit", zap.String("key", key), zap.String("version", version))
	return data, true, nil
}

// Put writes with SETNX so an existing entry is never replaced.
func (c *Client) Put(ctx context.Context, key, version string, data []byte) (bool, error) {
	ok, err := c.client.SetNX(ctx, bundleKey(key, version), data, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set bundle: %w", err)
	}

	logger.Debug("Bundle cached", zap.String("key", key), zap.String("version", version), zap.Bool("stored", ok))
	return ok, nil
}

func (c *Client) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, true, nil
}

func (c *Client) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// PurgeVersion deletes every bundle stored under version. Newer versions
// never read old entries, so this only reclaims memory.
func (c *Client) PurgeVersion(ctx context.Context, version string) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("bundle:%s:*", version), 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Bundle cache version purged", zap.String("version", version), zap.Int("deleted", deleted))
	return deleted, nil
}
