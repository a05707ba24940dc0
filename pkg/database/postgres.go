package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/papertrader-engine/internal/config"
	"github.com/papertrader-engine/pkg/observability"
	_ "github.com/lib/pq"
)

// DB wraps sql.DB with connection pool tuning, a background health loop,
// and per-statement timing for the storage layer's writes.
type DB struct {
	*sql.DB
	logger              *observability.Logger
	metrics             *DatabaseMetrics
	healthCheckInterval time.Duration
}

// DatabaseMetrics tracks database performance, refreshed by the
// background health loop and on every ExecWithMetrics call.
type DatabaseMetrics struct {
	QueryCount        int64
	SlowQueryCount    int64
	AvgQueryTime      time.Duration
	ActiveConnections int64
	IdleConnections   int64
	mu                sync.RWMutex
}

// NewPostgresDB opens the primary connection, applies pool sizing from
// cfg, and starts a background health-check loop.
func NewPostgresDB(cfg config.DatabaseConfig, logger *observability.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping primary database: %w", err)
	}

	db := &DB{
		DB:                  conn,
		logger:              logger,
		metrics:             &DatabaseMetrics{},
		healthCheckInterval: 30 * time.Second,
	}

	go db.startHealthMonitoring()

	logger.Info(context.Background(), "database connection established", map[string]interface{}{
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime,
	})

	return db, nil
}

// ExecWithMetrics executes a write statement and folds its latency into
// the rolling average, flagging anything slower than 100ms.
func (db *DB) ExecWithMetrics(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()

	result, err := db.ExecContext(ctx, query, args...)

	duration := time.Since(start)
	db.updateMetrics(duration)

	if duration > 100*time.Millisecond {
		db.logger.Warn(ctx, "slow query detected", map[string]interface{}{
			"query":    query,
			"duration": duration,
		})
		db.metrics.mu.Lock()
		db.metrics.SlowQueryCount++
		db.metrics.mu.Unlock()
	}

	return result, err
}

func (db *DB) updateMetrics(duration time.Duration) {
	db.metrics.mu.Lock()
	defer db.metrics.mu.Unlock()

	db.metrics.QueryCount++

	if db.metrics.AvgQueryTime == 0 {
		db.metrics.AvgQueryTime = duration
	} else {
		const alpha = 0.1
		db.metrics.AvgQueryTime = time.Duration(float64(db.metrics.AvgQueryTime)*(1-alpha) + float64(duration)*alpha)
	}
}

// startHealthMonitoring periodically pings the primary connection and
// logs pool saturation; it runs for the lifetime of the process.
func (db *DB) startHealthMonitoring() {
	ticker := time.NewTicker(db.healthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		db.performHealthCheck()
	}
}

func (db *DB) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.DB.PingContext(ctx); err != nil {
		db.logger.Error(ctx, "database health check failed", err)
		return
	}

	stats := db.DB.Stats()
	db.metrics.mu.Lock()
	db.metrics.ActiveConnections = int64(stats.OpenConnections)
	db.metrics.IdleConnections = int64(stats.Idle)
	db.metrics.mu.Unlock()

	db.logger.Debug(ctx, "database health check completed", map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"idle_connections": stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration,
	})
}

// Close releases the primary connection.
func (db *DB) Close() error {
	db.logger.Info(context.Background(), "closing database connection")
	return db.DB.Close()
}

// Health runs a bounded ping, used by the API's readiness check.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
