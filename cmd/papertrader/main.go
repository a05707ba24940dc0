// Command papertrader runs the paper-trading decision and execution
// engine: the bot/agent scheduler, the signal pipeline, and the HTTP
// surface that exposes them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/papertrader-engine/api"
	"github.com/papertrader-engine/internal/config"
	"github.com/papertrader-engine/internal/jobqueue"
	"github.com/papertrader-engine/internal/llmclient"
	"github.com/papertrader-engine/internal/marketdata"
	"github.com/papertrader-engine/internal/nativeengine"
	"github.com/papertrader-engine/internal/pipeline"
	"github.com/papertrader-engine/internal/risk"
	"github.com/papertrader-engine/internal/scheduler"
	"github.com/papertrader-engine/internal/storage"
	"github.com/papertrader-engine/pkg/database"
	"github.com/papertrader-engine/pkg/observability"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Error(context.Background(), "tracing shutdown error", err)
		}
	}()

	pgDB, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pgDB.Close()

	if err := storage.Migrate(ctx, pgDB.DB); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	redisClient, err := database.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	store := storage.New(pgDB, logger)
	market := marketdata.New(cfg.MarketData, redisClient.Client, logger)

	engine := nativeengine.New(nativeengine.Config{
		BinaryPath:    cfg.NativeEngine.BinaryPath,
		Timeout:       time.Duration(cfg.NativeEngine.TimeoutMS) * time.Millisecond,
		MaxInputBytes: cfg.NativeEngine.MaxInputBytes,
		MaxConcurrent: cfg.NativeEngine.MaxConcurrent,
	}, logger)

	llm := llmclient.New(llmclient.Config{
		APIKey:           cfg.LLM.AnthropicKey,
		Model:            cfg.LLM.ModelName,
		Timeout:          time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
		FailureThreshold: cfg.LLM.CircuitFailureThreshold,
		Cooldown:         cfg.LLM.CircuitCooldown,
	}, logger)

	pl := pipeline.New(market, engine, llm, store, nil, logger, pipeline.Config{
		MaxCandleSymbols:    cfg.Pipeline.MaxCandleSymbols,
		RollingWindow:       cfg.Pipeline.RollingWindow,
		AutoPauseAccuracy:   decimal.NewFromFloat(cfg.Pipeline.AutoPauseAccuracy),
		ExecutorAutoExecute: decimal.NewFromFloat(cfg.Pipeline.ExecutorAutoExecute),
		LLMRejectionPenalty: decimal.NewFromFloat(cfg.Pipeline.LLMRejectionPenalty),
		RiskGateMaxDrawdown: decimal.NewFromFloat(cfg.Pipeline.RiskGateMaxDrawdown),
	})

	riskMgr := risk.New(logger, risk.Config{
		DefaultMaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		DefaultMaxDailyLoss:         decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
	})
	pl.SetRiskManager(riskMgr)

	sched := scheduler.New(pl, logger, scheduler.Config{
		TickInterval:       time.Duration(cfg.Scheduler.TickIntervalMS) * time.Millisecond,
		MarketScanInterval: time.Duration(cfg.Scheduler.MarketScanIntervalMS) * time.Millisecond,
		MaxConcurrentBots:  cfg.Scheduler.MaxConcurrentBots,
	})
	pl.SetPauser(sched)
	sched.SetStore(store)

	jq := jobqueue.New(redisClient.Client, jobqueue.Config{
		Enabled:      cfg.JobQueue.Enabled,
		KeyPrefix:    cfg.JobQueue.KeyPrefix,
		PollInterval: cfg.JobQueue.PollInterval,
	}, logger)
	if cfg.JobQueue.Enabled {
		jq.StartWorker(ctx, newsFetchHandler(logger))
	}

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: "dev",
		Namespace:      "papertrader",
		Enabled:        true,
	})
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}
	sched.SetMetrics(metrics)

	server := api.New(api.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		ShutdownWait:       cfg.Server.ShutdownWait,
		CORSAllowedOrigins: cfg.Security.CORSAllowedOrigins,
		JWTSecret:          cfg.Auth.JWTSecret,
		RateLimit:          cfg.RateLimit,
	}, logger, sched, pl, store, market, llm, metrics, riskMgr)

	reconcileRunningBots(ctx, store, sched, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error(context.Background(), "http server stopped with error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer cancel()

	sched.StopAll(shutdownCtx)
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown error", err)
	}
}

// reconcileRunningBots re-registers any bot left marked RUNNING from a
// prior process lifetime, since the in-process scheduler holds no state
// across restarts.
func reconcileRunningBots(ctx context.Context, store *storage.Store, sched *scheduler.Scheduler, logger *observability.Logger) {
	bots, err := store.ListBots(ctx)
	if err != nil {
		logger.Warn(ctx, "could not reconcile bots at startup", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, bot := range bots {
		if bot.Status == "RUNNING" {
			sched.StartBot(ctx, bot)
		}
	}
}

// newsFetchHandler is the job-queue worker's handler. It logs each job it
// receives and does nothing else; nothing in this process enqueues jobs.
// The briefing text is generated on demand by the HTTP handler, which
// does not read from the queue.
func newsFetchHandler(logger *observability.Logger) jobqueue.Handler {
	return func(ctx context.Context, job jobqueue.Job) error {
		logger.Debug(ctx, "job queue job processed", map[string]interface{}{"kind": job.Kind, "id": job.ID})
		return nil
	}
}
