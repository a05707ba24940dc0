package database

import (
	"context"
	"fmt"
	"time"

	"github.com/papertrader-engine/internal/config"
	"github.com/papertrader-engine/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps redis.Client with connection pool tuning and a
// background metrics-collection loop.
type RedisClient struct {
	*redis.Client
	logger           *observability.Logger
	maxMemory        string
	evictionPolicy   string
}

// NewRedisClient opens a Redis connection with the URL, password, DB and
// pool size from cfg, applies a fixed 256mb allkeys-lru eviction policy
// server-side, and starts background metrics collection.
func NewRedisClient(cfg config.RedisConfig, logger *observability.Logger) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = 5
	opt.MaxIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient := &RedisClient{
		Client:         client,
		logger:         logger,
		maxMemory:      "256mb",
		evictionPolicy: "allkeys-lru",
	}

	if err := redisClient.configureRedis(ctx); err != nil {
		logger.Warn(ctx, "failed to configure Redis optimizations", map[string]interface{}{
			"error": err.Error(),
		})
	}

	go redisClient.startMetricsCollection()

	logger.Info(ctx, "Redis client initialized", map[string]interface{}{
		"pool_size":       opt.PoolSize,
		"min_idle_conns":  opt.MinIdleConns,
		"max_memory":      redisClient.maxMemory,
		"eviction_policy": redisClient.evictionPolicy,
	})

	return redisClient, nil
}

// configureRedis applies maxmemory and eviction settings server-side.
func (r *RedisClient) configureRedis(ctx context.Context) error {
	configs := map[string]string{
		"maxmemory":        r.maxMemory,
		"maxmemory-policy": r.evictionPolicy,
		"timeout":          "300",
		"tcp-keepalive":    "60",
	}

	for key, value := range configs {
		if err := r.ConfigSet(ctx, key, value).Err(); err != nil {
			r.logger.Warn(ctx, "failed to set Redis config", map[string]interface{}{
				"key":   key,
				"value": value,
				"error": err.Error(),
			})
		}
	}

	return nil
}

// startMetricsCollection periodically logs Redis server stats; it runs
// for the lifetime of the process.
func (r *RedisClient) startMetricsCollection() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		r.collectMetrics()
	}
}

func (r *RedisClient) collectMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info := r.Info(ctx, "stats", "memory")
	if info.Err() != nil {
		r.logger.Error(ctx, "failed to collect Redis metrics", info.Err())
		return
	}

	r.logger.Debug(ctx, "Redis metrics collected", map[string]interface{}{
		"info": info.Val(),
	})
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	r.logger.Info(context.Background(), "closing Redis connection")
	return r.Client.Close()
}

// Health runs a bounded ping, logging a warning on high latency.
func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis health check failed: %w", err)
	}

	if latency := time.Since(start); latency > 100*time.Millisecond {
		r.logger.Warn(ctx, "high Redis latency detected", map[string]interface{}{
			"latency": latency,
		})
	}

	return nil
}
