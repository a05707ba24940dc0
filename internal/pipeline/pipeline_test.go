package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	quote    *domain.Quote
	history  []domain.Candle
	gainers  []domain.Mover
	losers   []domain.Mover
}

func (f *fakeMarket) GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	if f.quote != nil {
		return f.quote, nil
	}
	return &domain.Quote{Symbol: symbol, LTP: decimal.NewFromInt(100)}, nil
}

func (f *fakeMarket) GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange domain.Exchange) ([]domain.Candle, error) {
	return f.history, nil
}

func (f *fakeMarket) GetTopMovers(ctx context.Context, count int) ([]domain.Mover, []domain.Mover, error) {
	return f.gainers, f.losers, nil
}

func (f *fakeMarket) GetOptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error) {
	return &domain.OptionsChain{Underlying: symbol}, nil
}

type fakeEngine struct {
	available bool
	signals   []EngineSignal
}

func (f *fakeEngine) Available() bool { return f.available }
func (f *fakeEngine) Scan(ctx context.Context, req ScanRequest) ([]EngineSignal, error) {
	return f.signals, nil
}

type fakeLLM struct {
	circuitOpen bool
	response    string
}

func (f *fakeLLM) CircuitOpen() bool { return f.circuitOpen }
func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, nil
}

type fakeStore struct {
	saved    []*domain.Signal
	messages []*domain.BotMessage
	pending  map[string]*domain.Signal
	nav      decimal.Decimal
	drawdown decimal.Decimal
	hasDD    bool
	trades   []ClosedTrade
	fillPnL  decimal.Decimal
}

func newFakeStore() *fakeStore {
	return &fakeStore{pending: map[string]*domain.Signal{}, nav: decimal.NewFromInt(100000)}
}

func (s *fakeStore) FindRecentPendingSignal(ctx context.Context, strategyID, symbol string, signalType domain.SignalType, within time.Duration) (*domain.Signal, error) {
	return s.pending[strategyID+symbol+string(signalType)], nil
}
func (s *fakeStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	s.saved = append(s.saved, sig)
	if sig.Status == domain.SignalPending {
		s.pending[sig.StrategyID+sig.Symbol+string(sig.Type)] = sig
	}
	return nil
}
func (s *fakeStore) SaveMessage(ctx context.Context, m *domain.BotMessage) error {
	s.messages = append(s.messages, m)
	return nil
}
func (s *fakeStore) LoadRollingAccuracy(ctx context.Context, strategyID string, window int) (*domain.RollingAccuracy, error) {
	return domain.NewRollingAccuracy(strategyID, window), nil
}
func (s *fakeStore) SaveRollingAccuracy(ctx context.Context, r *domain.RollingAccuracy) error { return nil }
func (s *fakeStore) OpenPositions(ctx context.Context, strategyID string) ([]OpenPosition, error) {
	return nil, nil
}
func (s *fakeStore) RecentClosedTrades(ctx context.Context, strategyID, symbol string, limit int) ([]ClosedTrade, error) {
	return s.trades, nil
}
func (s *fakeStore) PortfolioNAV(ctx context.Context, strategyID string) (decimal.Decimal, error) {
	return s.nav, nil
}
func (s *fakeStore) PortfolioDrawdownPercent(ctx context.Context, strategyID string) (decimal.Decimal, bool, error) {
	return s.drawdown, s.hasDD, nil
}
func (s *fakeStore) Execute(ctx context.Context, strategyID string, sig *domain.Signal, quantity decimal.Decimal) (*domain.Fill, decimal.Decimal, error) {
	return &domain.Fill{ID: uuid.New(), SignalID: sig.ID, Symbol: sig.Symbol, Quantity: quantity}, s.fillPnL, nil
}
func (s *fakeStore) UpdateBotStatus(ctx context.Context, botID uuid.UUID, status domain.BotStatus, lastError string) error {
	return nil
}

func sampleCandles(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Symbol: "RELIANCE", Close: decimal.NewFromInt(int64(100 + i))}
	}
	return out
}

func TestPipeline_RunCycle_ExecutorAutoExecutes(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{available: true, signals: []EngineSignal{
		{Symbol: "RELIANCE", Direction: domain.SignalBuy, Confidence: decimal.NewFromFloat(0.9), Entry: decimal.NewFromInt(100)},
	}}
	market := &fakeMarket{history: sampleCandles(30)}
	llm := &fakeLLM{}

	p := New(market, engine, llm, store, nil, nil, Config{})

	bot := &domain.Bot{ID: uuid.New(), Role: domain.RoleExecutor, Status: domain.BotStatusRunning, StrategyID: "strat-1"}
	err := p.RunCycle(context.Background(), bot)
	require.NoError(t, err)

	require.NotEmpty(t, store.saved)
	last := store.saved[len(store.saved)-1]
	assert.Equal(t, domain.SignalExecuted, last.Status)
}

func TestPipeline_RunCycle_LowConfidenceDropped(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{available: true, signals: []EngineSignal{
		{Symbol: "RELIANCE", Direction: domain.SignalBuy, Confidence: decimal.NewFromFloat(0.2), Entry: decimal.NewFromInt(100)},
	}}
	market := &fakeMarket{history: sampleCandles(30)}
	llm := &fakeLLM{}

	p := New(market, engine, llm, store, nil, nil, Config{})
	bot := &domain.Bot{ID: uuid.New(), Role: domain.RoleScanner, Status: domain.BotStatusRunning, StrategyID: "strat-1"}

	err := p.RunCycle(context.Background(), bot)
	require.NoError(t, err)
	assert.Empty(t, store.saved)
}

func TestPipeline_RunCycle_PreconditionSkipsWhenNotRunning(t *testing.T) {
	store := newFakeStore()
	p := New(&fakeMarket{}, &fakeEngine{}, &fakeLLM{}, store, nil, nil, Config{})
	bot := &domain.Bot{ID: uuid.New(), Status: domain.BotStatusIdle}

	err := p.RunCycle(context.Background(), bot)
	require.NoError(t, err)
	assert.Empty(t, store.messages)
}

func TestPipeline_RunCycle_AgentRiskGateDropsSignal(t *testing.T) {
	store := newFakeStore()
	store.hasDD = true
	store.drawdown = decimal.NewFromInt(15)
	engine := &fakeEngine{available: true, signals: []EngineSignal{
		{Symbol: "NIFTY 50", Direction: domain.SignalBuy, Confidence: decimal.NewFromFloat(0.9), Entry: decimal.NewFromInt(100)},
	}}
	market := &fakeMarket{history: sampleCandles(30)}
	p := New(market, engine, &fakeLLM{}, store, nil, nil, Config{RiskGateMaxDrawdown: decimal.NewFromInt(10)})

	bot := &domain.Bot{
		ID: uuid.New(), Status: domain.BotStatusRunning, StrategyID: "strat-1",
		Agent: &domain.AgentConfig{Mode: domain.AgentModeAutonomous, IsActive: true},
	}
	err := p.RunCycle(context.Background(), bot)
	require.NoError(t, err)
	assert.Empty(t, store.saved)
}

func TestPipeline_RiskManagerHaltDropsSignal(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{available: true, signals: []EngineSignal{
		{Symbol: "NIFTY 50", Direction: domain.SignalBuy, Confidence: decimal.NewFromFloat(0.9), Entry: decimal.NewFromInt(100)},
	}}
	market := &fakeMarket{history: sampleCandles(30)}
	p := New(market, engine, &fakeLLM{}, store, nil, nil, Config{})
	p.SetRiskManager(risk.New(nil, risk.Config{}))
	p.risk.Halt(context.Background(), "strat-1", "operator intervention")

	bot := &domain.Bot{ID: uuid.New(), Role: domain.RoleExecutor, Status: domain.BotStatusRunning, StrategyID: "strat-1"}
	err := p.RunCycle(context.Background(), bot)
	require.NoError(t, err)
	assert.Empty(t, store.saved)
}

func TestPipeline_AutoPauseStopsBot(t *testing.T) {
	store := newFakeStore()
	store.fillPnL = decimal.NewFromInt(-50)

	// RollingWindow uses the real production default (20): auto-pause must
	// still fire once MinAutoPauseSamples outcomes are in, well before the
	// window itself fills up.
	acc := domain.NewRollingAccuracy("strat-1", 20)
	for i := 0; i < domain.MinAutoPauseSamples-1; i++ {
		acc.Record(domain.OutcomeLoss)
	}

	engine := &fakeEngine{available: true, signals: []EngineSignal{
		{Symbol: "RELIANCE", Direction: domain.SignalBuy, Confidence: decimal.NewFromFloat(0.9), Entry: decimal.NewFromInt(100)},
	}}
	market := &fakeMarket{history: sampleCandles(30)}
	pauser := &recordingPauser{}
	p := New(market, engine, &fakeLLM{}, &preloadedAccuracyStore{fakeStore: store, acc: acc}, pauser, nil, Config{
		RollingWindow:      20,
		AutoPauseAccuracy:  decimal.NewFromFloat(0.35),
	})

	bot := &domain.Bot{ID: uuid.New(), Role: domain.RoleExecutor, Status: domain.BotStatusRunning, StrategyID: "strat-1"}
	err := p.RunCycle(context.Background(), bot)
	require.NoError(t, err)

	assert.True(t, pauser.stopped)
}

type recordingPauser struct{ stopped bool }

func (r *recordingPauser) StopBot(ctx context.Context, botID uuid.UUID) { r.stopped = true }

type preloadedAccuracyStore struct {
	*fakeStore
	acc *domain.RollingAccuracy
}

func (s *preloadedAccuracyStore) LoadRollingAccuracy(ctx context.Context, strategyID string, window int) (*domain.RollingAccuracy, error) {
	return s.acc, nil
}
