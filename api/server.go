// Package api exposes the bot/agent/market-data surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/papertrader-engine/internal/config"
	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/internal/llmclient"
	"github.com/papertrader-engine/internal/marketdata"
	"github.com/papertrader-engine/internal/pipeline"
	"github.com/papertrader-engine/internal/risk"
	"github.com/papertrader-engine/internal/scheduler"
	"github.com/papertrader-engine/internal/storage"
	"github.com/papertrader-engine/pkg/middleware"
	"github.com/papertrader-engine/pkg/observability"
)

// Config carries the HTTP server's own tunables, independent of the
// collaborators it wires together.
type Config struct {
	Host               string
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownWait       time.Duration
	CORSAllowedOrigins []string
	JWTSecret          string
	RateLimit          config.RateLimitConfig
}

// Server is the papertrading engine's HTTP surface: bot CRUD, agent
// control, manual signal execution, and read-only market data.
type Server struct {
	cfg        Config
	logger     *observability.Logger
	router     *mux.Router
	httpServer *http.Server

	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Pipeline
	store     *storage.Store
	market    *marketdata.Provider
	llm       *llmclient.Client
	metrics   *observability.MetricsProvider
	risk      *risk.Manager
	health    *observability.HealthChecker

	agentMu     sync.Mutex
	agentActive bool
	agentMode   domain.AgentMode
	agentStart  time.Time

	briefing briefingCache
}

// New builds a Server. Routes are registered immediately; Start binds
// the listener.
func New(
	cfg Config,
	logger *observability.Logger,
	sched *scheduler.Scheduler,
	pl *pipeline.Pipeline,
	store *storage.Store,
	market *marketdata.Provider,
	llm *llmclient.Client,
	metrics *observability.MetricsProvider,
	riskMgr *risk.Manager,
) *Server {
	health := observability.NewHealthChecker(logger)
	health.RegisterCheck("postgres", observability.DatabaseHealthCheck(store.Ping))
	health.RegisterCheck("market_data_cache", observability.RedisHealthCheck(market.Ping))
	health.RegisterCheck("risk", observability.DegradedStateHealthCheck(
		"one or more strategies are risk-halted",
		func(ctx context.Context) (bool, map[string]interface{}) {
			var halted []string
			for _, snap := range riskMgr.All() {
				if snap.Halted {
					halted = append(halted, snap.StrategyID)
				}
			}
			return len(halted) > 0, map[string]interface{}{"halted_strategies": halted}
		},
	))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		scheduler: sched,
		pipeline:  pl,
		store:     store,
		market:    market,
		llm:       llm,
		metrics:   metrics,
		risk:      riskMgr,
		health:    health,
		agentMode: domain.AgentModeAdvisory,
	}
	s.router = mux.NewRouter()
	s.registerRoutes()

	observability.NewHealthServer(health, observability.ServiceInfo{Name: "papertrader"}, logger).
		RegisterRoutes(s.router)

	obsMiddleware := observability.NewObservabilityMiddleware(metrics, logger, observability.MiddlewareConfig{
		ServiceName:   "papertrader",
		EnableTracing: true,
	})

	handler := middleware.Recovery(logger)(
		obsMiddleware.HTTPMiddleware(
			middleware.RateLimit(cfg.RateLimit)(s.router),
		),
	)
	handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	bots := s.router.PathPrefix("/bots").Subrouter()
	if s.cfg.JWTSecret != "" {
		bots.Use(mux.MiddlewareFunc(middleware.JWT(s.cfg.JWTSecret)))
	}
	bots.HandleFunc("", s.handleCreateBot).Methods(http.MethodPost)
	bots.HandleFunc("", s.handleListBots).Methods(http.MethodGet)
	bots.HandleFunc("/messages", s.handleListBotMessages).Methods(http.MethodGet)
	bots.HandleFunc("/{id}", s.handleUpdateBot).Methods(http.MethodPut)
	bots.HandleFunc("/{id}", s.handleDeleteBot).Methods(http.MethodDelete)
	bots.HandleFunc("/{id}/start", s.handleStartBot).Methods(http.MethodPost)
	bots.HandleFunc("/{id}/stop", s.handleStopBot).Methods(http.MethodPost)
	bots.HandleFunc("/{id}/task", s.handleBotTask).Methods(http.MethodPost)

	agent := s.router.PathPrefix("/agent").Subrouter()
	if s.cfg.JWTSecret != "" {
		agent.Use(mux.MiddlewareFunc(middleware.JWT(s.cfg.JWTSecret)))
	}
	agent.HandleFunc("/status", s.handleAgentStatus).Methods(http.MethodGet)
	agent.HandleFunc("/start", s.handleAgentStart).Methods(http.MethodPost)
	agent.HandleFunc("/stop", s.handleAgentStop).Methods(http.MethodPost)
	agent.HandleFunc("/signals", s.handleListSignals).Methods(http.MethodGet)
	agent.HandleFunc("/signals/{id}/execute", s.handleExecuteSignal).Methods(http.MethodPost)
	agent.HandleFunc("/signals/{id}/reject", s.handleRejectSignal).Methods(http.MethodPost)
	agent.HandleFunc("/briefing/premarket", s.handlePremarketBriefing).Methods(http.MethodGet)

	market := s.router.PathPrefix("/market").Subrouter()
	market.HandleFunc("/quote", s.handleQuote).Methods(http.MethodGet)
	market.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	market.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	market.HandleFunc("/indices", s.handleIndices).Methods(http.MethodGet)
	market.HandleFunc("/vix", s.handleVIX).Methods(http.MethodGet)
	market.HandleFunc("/movers", s.handleMovers).Methods(http.MethodGet)
	market.HandleFunc("/options/{symbol}", s.handleOptionsChain).Methods(http.MethodGet)

	s.router.HandleFunc("/strategies/{id}/accuracy", s.handleStrategyAccuracy).Methods(http.MethodGet)

	riskRoutes := s.router.PathPrefix("/risk").Subrouter()
	riskRoutes.HandleFunc("", s.handleListRisk).Methods(http.MethodGet)
	riskRoutes.HandleFunc("/{strategyId}", s.handleGetRisk).Methods(http.MethodGet)
	riskRoutes.HandleFunc("/{strategyId}/halt", s.handleHaltStrategy).Methods(http.MethodPost)
	riskRoutes.HandleFunc("/{strategyId}/resume", s.handleResumeStrategy).Methods(http.MethodPost)
}

// Start begins serving. It blocks until the listener stops or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info(ctx, "http server starting", map[string]interface{}{"addr": s.httpServer.Addr})
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop drains in-flight requests within cfg.ShutdownWait before closing.
func (s *Server) Stop(ctx context.Context) error {
	wait := s.cfg.ShutdownWait
	if wait <= 0 {
		wait = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealthz is the liveness probe: the process is running, full
// stop. It does not touch the database or cache.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is the readiness probe: Postgres and the market-data
// cache's redis connection must both answer, and no strategy may be
// risk-halted (the "risk" check's degraded status also yields a 503),
// before traffic is routed here.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	results := s.health.CheckHealth(r.Context())
	status := s.health.GetOverallStatus(results)
	if status != observability.HealthStatusHealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": status, "checks": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status, "checks": results})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {error, detail?} envelope documented for every
// non-2xx response on this surface.
func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": http.StatusText(status)}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
