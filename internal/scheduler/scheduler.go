// Package scheduler runs the bot/agent tick loops that drive the signal
// pipeline. It owns concurrency bookkeeping only: which bots are running,
// how many may run at once, and how their ticks are staggered. The actual
// per-cycle work is delegated to a Runner.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/pkg/observability"
)

// Runner executes one pipeline cycle for a bot. Implemented by
// internal/pipeline.
type Runner interface {
	RunCycle(ctx context.Context, bot *domain.Bot) error
	RunMarketScan(ctx context.Context) error
}

// BotStatusUpdater persists a bot's status and last-action detail.
// Implemented by internal/storage.Store.
type BotStatusUpdater interface {
	UpdateBotStatus(ctx context.Context, botID uuid.UUID, status domain.BotStatus, lastAction string) error
}

const (
	defaultStaggerPerRank    = 30 * time.Second
	defaultStaggerBase       = 10 * time.Second
	defaultAgentInitialDelay = 20 * time.Second
	defaultMarketScanDelay   = 30 * time.Second

	// maxLastActionLen caps the cycle-failure string persisted on a bot's
	// lastAction field.
	maxLastActionLen = 200
)

// managedBot is the scheduler's bookkeeping record for one registered bot.
type managedBot struct {
	bot        *domain.Bot
	registered time.Time
	stop       chan struct{}
	inFlight   bool
}

// Scheduler runs a tick loop per bot plus one market-scan loop, bounding
// the number of bots that may run concurrently.
type Scheduler struct {
	runner  Runner
	logger  *observability.Logger
	metrics *observability.MetricsProvider
	store   BotStatusUpdater

	mu      sync.Mutex
	bots    map[uuid.UUID]*managedBot
	order   []uuid.UUID // registration order, oldest first
	maxBots int

	tickInterval       time.Duration
	marketScanInterval time.Duration

	staggerPerRank    time.Duration
	staggerBase       time.Duration
	agentInitialDelay time.Duration
	marketScanDelay   time.Duration

	marketScanStop chan struct{}
	marketScanWG   sync.WaitGroup

	wg sync.WaitGroup
}

// Config seeds the scheduler's intervals and concurrency cap. The delay
// fields default to the documented production values when zero; tests
// override them to keep cases fast.
type Config struct {
	TickInterval       time.Duration
	MarketScanInterval time.Duration
	MaxConcurrentBots  int

	StaggerPerRank    time.Duration
	StaggerBase       time.Duration
	AgentInitialDelay time.Duration
	MarketScanDelay   time.Duration
}

// New creates a Scheduler bound to the given Runner.
func New(runner Runner, logger *observability.Logger, cfg Config) *Scheduler {
	if cfg.MaxConcurrentBots <= 0 {
		cfg.MaxConcurrentBots = 3
	}
	if cfg.StaggerPerRank == 0 {
		cfg.StaggerPerRank = defaultStaggerPerRank
	}
	if cfg.StaggerBase == 0 {
		cfg.StaggerBase = defaultStaggerBase
	}
	if cfg.AgentInitialDelay == 0 {
		cfg.AgentInitialDelay = defaultAgentInitialDelay
	}
	if cfg.MarketScanDelay == 0 {
		cfg.MarketScanDelay = defaultMarketScanDelay
	}
	return &Scheduler{
		runner:             runner,
		logger:             logger,
		bots:               make(map[uuid.UUID]*managedBot),
		maxBots:            cfg.MaxConcurrentBots,
		tickInterval:       cfg.TickInterval,
		marketScanInterval: cfg.MarketScanInterval,
		staggerPerRank:     cfg.StaggerPerRank,
		staggerBase:        cfg.StaggerBase,
		agentInitialDelay:  cfg.AgentInitialDelay,
		marketScanDelay:    cfg.MarketScanDelay,
	}
}

// SetMetrics binds the metrics provider used to record cycle timing and
// outcome. Safe to call after construction; nil leaves metrics unset.
func (s *Scheduler) SetMetrics(metrics *observability.MetricsProvider) {
	s.metrics = metrics
}

// SetStore binds the persistence used to record cycle failures onto a
// bot's lastAction field. Safe to call after construction; nil leaves
// cycle failures visible only on the scheduler's in-memory bot, not
// through the HTTP API's store-backed reads.
func (s *Scheduler) SetStore(store BotStatusUpdater) {
	s.store = store
}

// SetTickInterval changes the per-bot tick interval for bots started after
// the call; running bots keep their original ticker until restarted.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickInterval = d
}

// SetMarketScanInterval changes the market-scan loop's interval. Takes
// effect on the next StartMarketScan call.
func (s *Scheduler) SetMarketScanInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketScanInterval = d
}

// StartBot registers and starts a bot's tick loop. If the scheduler is at
// capacity, the oldest running bot is evicted (stopped) to make room —
// the scheduler favors freshness over first-come priority. The first
// cycle fires after a stagger delay of (rank*30s + 10s).
func (s *Scheduler) StartBot(ctx context.Context, bot *domain.Bot) {
	s.mu.Lock()

	if _, ok := s.bots[bot.ID]; ok {
		s.mu.Unlock()
		return
	}

	if len(s.order) >= s.maxBots {
		oldestID := s.order[0]
		s.evictLocked(ctx, oldestID)
	}

	rank := len(s.order)
	mb := &managedBot{bot: bot, registered: time.Now(), stop: make(chan struct{})}
	s.bots[bot.ID] = mb
	s.order = append(s.order, bot.ID)
	interval := s.tickInterval
	s.mu.Unlock()

	bot.Status = domain.BotStatusRunning

	delay := time.Duration(rank)*s.staggerPerRank + s.staggerBase

	s.wg.Add(1)
	go s.botLoop(ctx, mb, interval, delay)
}

// evictLocked stops the given bot's loop. Caller must hold s.mu.
func (s *Scheduler) evictLocked(ctx context.Context, id uuid.UUID) {
	mb, ok := s.bots[id]
	if !ok {
		return
	}
	close(mb.stop)
	delete(s.bots, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.logger != nil {
		s.logger.Info(ctx, "evicted bot at scheduler capacity", map[string]interface{}{
			"bot_id": id.String(),
		})
	}
}

// StopBot stops a running bot's tick loop.
func (s *Scheduler) StopBot(ctx context.Context, botID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.bots[botID]
	if !ok {
		return
	}
	close(mb.stop)
	delete(s.bots, botID)
	for i, oid := range s.order {
		if oid == botID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	mb.bot.Status = domain.BotStatusIdle
}

// StartAgent registers an agent-driven bot at the signal interval with a
// fixed 20s initial delay, bypassing the rank-based stagger StartBot uses
// since an agent is per-user rather than competing for the bot capacity
// slot rotation.
func (s *Scheduler) StartAgent(ctx context.Context, bot *domain.Bot, signalInterval time.Duration) {
	s.mu.Lock()
	if _, ok := s.bots[bot.ID]; ok {
		s.mu.Unlock()
		return
	}
	mb := &managedBot{bot: bot, registered: time.Now(), stop: make(chan struct{})}
	s.bots[bot.ID] = mb
	s.mu.Unlock()

	bot.Status = domain.BotStatusRunning

	s.wg.Add(1)
	go s.botLoop(ctx, mb, signalInterval, s.agentInitialDelay)
}

// StopAgent stops an agent-driven bot.
func (s *Scheduler) StopAgent(ctx context.Context, botID uuid.UUID) {
	s.StopBot(ctx, botID)
}

// StartMarketScan launches the periodic market-wide scan loop. Calling it
// while already running is a no-op.
func (s *Scheduler) StartMarketScan(ctx context.Context) {
	s.mu.Lock()
	if s.marketScanStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.marketScanStop = stop
	interval := s.marketScanInterval
	s.mu.Unlock()

	s.marketScanWG.Add(1)
	go s.marketScanLoop(ctx, stop, interval, s.marketScanDelay)
}

// StopMarketScan stops only the market-wide scan loop, leaving every
// registered bot's tick loop running. Calling it while not running is a
// no-op.
func (s *Scheduler) StopMarketScan(ctx context.Context) {
	s.mu.Lock()
	stop := s.marketScanStop
	s.marketScanStop = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	s.marketScanWG.Wait()
}

// StopAll stops every running bot loop and the market-scan loop, and
// blocks until all of them have returned.
func (s *Scheduler) StopAll(ctx context.Context) {
	s.mu.Lock()
	for id := range s.bots {
		mb := s.bots[id]
		close(mb.stop)
	}
	s.bots = make(map[uuid.UUID]*managedBot)
	s.order = nil
	stop := s.marketScanStop
	s.marketScanStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	s.wg.Wait()
	s.marketScanWG.Wait()
}

func (s *Scheduler) botLoop(ctx context.Context, mb *managedBot, interval time.Duration, initialDelay time.Duration) {
	defer s.wg.Done()
	defer s.recoverAndLog(ctx, "botLoop", mb.bot.ID)

	select {
	case <-ctx.Done():
		return
	case <-mb.stop:
		return
	case <-time.After(initialDelay):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mb.stop:
			return
		case <-ticker.C:
			s.runOnce(ctx, mb)
		}
	}
}

// runOnce guards against reentrant ticks: if the previous cycle for this
// bot is still running when the next tick fires, the tick is dropped.
func (s *Scheduler) runOnce(ctx context.Context, mb *managedBot) {
	s.mu.Lock()
	if mb.inFlight {
		s.mu.Unlock()
		return
	}
	mb.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		mb.inFlight = false
		s.mu.Unlock()
	}()

	mb.bot.LastRunAt = time.Now()
	start := time.Now()
	err := s.runner.RunCycle(ctx, mb.bot)
	duration := time.Since(start)

	if err != nil {
		detail := truncateLastAction(err.Error())
		mb.bot.Status = domain.BotStatusError
		mb.bot.LastError = err.Error()
		mb.bot.LastAction = detail
		mb.bot.LastActionAt = time.Now()
		if s.store != nil {
			if uerr := s.store.UpdateBotStatus(ctx, mb.bot.ID, domain.BotStatusError, detail); uerr != nil && s.logger != nil {
				s.logger.Error(ctx, "failed to persist bot cycle failure", uerr, map[string]interface{}{
					"bot_id": mb.bot.ID.String(),
				})
			}
		}
		if s.logger != nil {
			s.logger.Error(ctx, "bot cycle failed", err, map[string]interface{}{
				"bot_id": mb.bot.ID.String(),
			})
		}
		if s.metrics != nil {
			s.metrics.RecordCycleExecution(ctx, string(mb.bot.Role), "error", duration)
		}
		return
	}
	mb.bot.Status = domain.BotStatusRunning
	mb.bot.LastError = ""
	if s.metrics != nil {
		s.metrics.RecordCycleExecution(ctx, string(mb.bot.Role), "success", duration)
	}
}

func (s *Scheduler) marketScanLoop(ctx context.Context, stop chan struct{}, interval time.Duration, initialDelay time.Duration) {
	defer s.marketScanWG.Done()
	defer s.recoverAndLog(ctx, "marketScanLoop", uuid.Nil)

	select {
	case <-ctx.Done():
		return
	case <-stop:
		return
	case <-time.After(initialDelay):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			start := time.Now()
			err := s.runner.RunMarketScan(ctx)
			duration := time.Since(start)
			status := "success"
			if err != nil {
				status = "error"
				if s.logger != nil {
					s.logger.Error(ctx, "market scan failed", err, nil)
				}
			}
			if s.metrics != nil {
				s.metrics.RecordCycleExecution(ctx, "market_scan", status, duration)
			}
		}
	}
}

// truncateLastAction caps a cycle-failure string to maxLastActionLen
// characters so it fits the bot's lastAction column.
func truncateLastAction(s string) string {
	if len(s) <= maxLastActionLen {
		return s
	}
	return s[:maxLastActionLen]
}

func (s *Scheduler) recoverAndLog(ctx context.Context, loop string, botID uuid.UUID) {
	if r := recover(); r != nil && s.logger != nil {
		s.logger.Error(ctx, "panic recovered in scheduler loop", nil, map[string]interface{}{
			"loop":   loop,
			"bot_id": botID.String(),
			"panic":  r,
		})
	}
}
