package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	cycles     int32
	scans      int32
	cycleDelay time.Duration
	failWith   error
}

func (r *countingRunner) RunCycle(ctx context.Context, bot *domain.Bot) error {
	atomic.AddInt32(&r.cycles, 1)
	if r.cycleDelay > 0 {
		time.Sleep(r.cycleDelay)
	}
	return r.failWith
}

func (r *countingRunner) RunMarketScan(ctx context.Context) error {
	atomic.AddInt32(&r.scans, 1)
	return nil
}

type recordingStatusUpdater struct {
	mu      sync.Mutex
	botID   uuid.UUID
	status  domain.BotStatus
	detail  string
	updated bool
}

func (u *recordingStatusUpdater) UpdateBotStatus(ctx context.Context, botID uuid.UUID, status domain.BotStatus, lastAction string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.botID = botID
	u.status = status
	u.detail = lastAction
	u.updated = true
	return nil
}

func (u *recordingStatusUpdater) snapshot() (uuid.UUID, domain.BotStatus, string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.botID, u.status, u.detail, u.updated
}

func newBot() *domain.Bot {
	return &domain.Bot{ID: uuid.New(), Name: "test-bot", Role: domain.RoleScanner, Status: domain.BotStatusIdle}
}

// testDelays shrinks all the production stagger/initial-delay values to
// 1ms (zero would select the production defaults) so tick behaviour is
// exercised without paying the real-world delays.
func testDelays() Config {
	return Config{
		StaggerPerRank:    time.Millisecond,
		StaggerBase:       time.Millisecond,
		AgentInitialDelay: time.Millisecond,
		MarketScanDelay:   time.Millisecond,
	}
}

func TestScheduler_StartBot_RunsCycles(t *testing.T) {
	runner := &countingRunner{}
	cfg := testDelays()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.MaxConcurrentBots = 3
	s := New(runner, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bot := newBot()
	s.StartBot(ctx, bot)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.cycles) >= 2
	}, time.Second, 5*time.Millisecond)

	s.StopAll(ctx)
}

func TestScheduler_EvictsOldestAtCapacity(t *testing.T) {
	runner := &countingRunner{}
	cfg := testDelays()
	cfg.TickInterval = time.Hour
	cfg.MaxConcurrentBots = 2
	s := New(runner, nil, cfg)
	ctx := context.Background()

	b1, b2, b3 := newBot(), newBot(), newBot()
	s.StartBot(ctx, b1)
	s.StartBot(ctx, b2)
	s.StartBot(ctx, b3)

	s.mu.Lock()
	_, oldestStillPresent := s.bots[b1.ID]
	_, newestPresent := s.bots[b3.ID]
	count := len(s.bots)
	s.mu.Unlock()

	assert.False(t, oldestStillPresent, "oldest bot should have been evicted")
	assert.True(t, newestPresent)
	assert.Equal(t, 2, count)

	s.StopAll(ctx)
}

func TestScheduler_DropsReentrantTick(t *testing.T) {
	runner := &countingRunner{cycleDelay: 100 * time.Millisecond}
	cfg := testDelays()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.MaxConcurrentBots = 1
	s := New(runner, nil, cfg)
	ctx := context.Background()

	bot := newBot()
	s.StartBot(ctx, bot)

	time.Sleep(150 * time.Millisecond)
	s.StopAll(ctx)

	assert.LessOrEqual(t, atomic.LoadInt32(&runner.cycles), int32(3))
}

func TestScheduler_MarketScanLoop(t *testing.T) {
	runner := &countingRunner{}
	cfg := testDelays()
	cfg.MarketScanInterval = 15 * time.Millisecond
	s := New(runner, nil, cfg)
	ctx := context.Background()

	s.StartMarketScan(ctx)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.scans) >= 2
	}, time.Second, 5*time.Millisecond)

	s.StopAll(ctx)
}

func TestScheduler_StartAgent_UsesConfiguredDelay(t *testing.T) {
	runner := &countingRunner{}
	cfg := testDelays()
	cfg.AgentInitialDelay = 30 * time.Millisecond
	s := New(runner, nil, cfg)
	ctx := context.Background()

	bot := newBot()
	start := time.Now()
	s.StartAgent(ctx, bot, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.cycles) >= 1
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	s.StopAll(ctx)
}

func TestScheduler_RunOnce_PersistsCycleFailureToStore(t *testing.T) {
	runner := &countingRunner{failWith: errors.New("broker timeout")}
	cfg := testDelays()
	cfg.TickInterval = 10 * time.Millisecond
	s := New(runner, nil, cfg)
	store := &recordingStatusUpdater{}
	s.SetStore(store)
	ctx := context.Background()

	bot := newBot()
	s.StartBot(ctx, bot)

	require.Eventually(t, func() bool {
		_, _, _, updated := store.snapshot()
		return updated
	}, time.Second, 5*time.Millisecond)

	botID, status, detail, _ := store.snapshot()
	assert.Equal(t, bot.ID, botID)
	assert.Equal(t, domain.BotStatusError, status)
	assert.Equal(t, "broker timeout", detail)
	assert.Equal(t, domain.BotStatusError, bot.Status)
	assert.Equal(t, "broker timeout", bot.LastAction)
	assert.False(t, bot.LastActionAt.IsZero())

	s.StopAll(ctx)
}

func TestScheduler_RunOnce_TruncatesLongFailureDetail(t *testing.T) {
	assert.Equal(t, maxLastActionLen, len(truncateLastAction(strings.Repeat("x", maxLastActionLen+50))))
	assert.Equal(t, "short", truncateLastAction("short"))
}

func TestScheduler_StopMarketScan_LeavesBotsRunning(t *testing.T) {
	runner := &countingRunner{}
	cfg := testDelays()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.MarketScanInterval = 10 * time.Millisecond
	s := New(runner, nil, cfg)
	ctx := context.Background()

	bot := newBot()
	s.StartBot(ctx, bot)
	s.StartMarketScan(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.scans) >= 1
	}, time.Second, 5*time.Millisecond)

	s.StopMarketScan(ctx)
	scansAtStop := atomic.LoadInt32(&runner.scans)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.cycles) >= 2
	}, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	_, stillRunning := s.bots[bot.ID]
	s.mu.Unlock()
	assert.True(t, stillRunning, "StopMarketScan must not touch bot loops")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, scansAtStop, atomic.LoadInt32(&runner.scans), "market scan loop must not keep running")

	s.StopAll(ctx)
}
