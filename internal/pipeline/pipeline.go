// Package pipeline implements the signal pipeline: the thirteen-stage
// cycle that turns a bot or agent tick into zero-or-more signals, gate
// scores, an execution decision, and an audit trail.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/internal/risk"
	"github.com/papertrader-engine/pkg/observability"
	"github.com/shopspring/decimal"
)

// AutoPauser lets the pipeline ask the scheduler to stop a bot whose
// rolling accuracy has fallen below the auto-pause floor. Satisfied by
// *scheduler.Scheduler without an import cycle.
type AutoPauser interface {
	StopBot(ctx context.Context, botID uuid.UUID)
}

// Config carries the per-cycle limits the pipeline runs under.
type Config struct {
	MaxCandleSymbols    int
	RollingWindow       int
	AutoPauseAccuracy   decimal.Decimal
	ExecutorAutoExecute decimal.Decimal
	LLMRejectionPenalty decimal.Decimal
	RiskGateMaxDrawdown decimal.Decimal
	HistoryLookback     time.Duration
}

// Pipeline wires the market-data, native-engine, LLM and storage
// collaborators together into one cycle implementation.
type Pipeline struct {
	market MarketData
	engine NativeEngine
	llm    LLMClient
	store  Store
	pauser AutoPauser
	risk   *risk.Manager
	logger *observability.Logger
	cfg    Config
}

// New builds a Pipeline. pauser may be nil in tests that don't exercise
// auto-pause.
func New(market MarketData, engine NativeEngine, llm LLMClient, store Store, pauser AutoPauser, logger *observability.Logger, cfg Config) *Pipeline {
	if cfg.MaxCandleSymbols <= 0 {
		cfg.MaxCandleSymbols = 8
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 20
	}
	if cfg.HistoryLookback <= 0 {
		cfg.HistoryLookback = 48 * time.Hour
	}
	return &Pipeline{market: market, engine: engine, llm: llm, store: store, pauser: pauser, logger: logger, cfg: cfg}
}

// SetPauser binds the scheduler after construction, breaking the
// Pipeline/Scheduler initialization cycle (the scheduler's New requires a
// Runner, and the pipeline's auto-pause needs that same scheduler).
func (p *Pipeline) SetPauser(pauser AutoPauser) {
	p.pauser = pauser
}

// SetRiskManager binds the portfolio-wide risk gate. nil (the default)
// disables consecutive-loss/daily-loss halting; the per-cycle drawdown
// check in Config.RiskGateMaxDrawdown still runs either way.
func (p *Pipeline) SetRiskManager(m *risk.Manager) {
	p.risk = m
}

// RunCycle executes one cycle for a bot (plain bot or agent-driven bot,
// distinguished by bot.Agent being non-nil).
func (p *Pipeline) RunCycle(ctx context.Context, bot *domain.Bot) error {
	// Stage 1: preconditions.
	if bot.Status != domain.BotStatusRunning {
		return nil
	}
	if p.llm.CircuitOpen() && !p.engine.Available() {
		return nil
	}

	isAgent := bot.Agent != nil

	// Stage 2: symbol selection.
	symbols, err := p.selectSymbols(ctx, bot)
	if err != nil {
		return fmt.Errorf("symbol selection: %w", err)
	}
	if len(symbols) == 0 {
		return p.logInfo(ctx, bot, "no symbols to evaluate this cycle")
	}

	// Stage 3: candle fetch.
	candleSets := p.fetchCandles(ctx, symbols)
	if len(candleSets) == 0 {
		return p.logInfo(ctx, bot, "no symbols had sufficient candle history")
	}

	aggressiveness := "medium"
	if bot.Role == domain.RoleExecutor || (isAgent && bot.Agent.Mode == domain.AgentModeAutonomous) {
		aggressiveness = "high"
	}

	// Stage 4: native scan.
	var engineSignals []EngineSignal
	if p.engine.Available() {
		engineSignals, err = p.engine.Scan(ctx, ScanRequest{Symbols: candleSets, Aggressiveness: aggressiveness})
		if err != nil {
			engineSignals = nil
		}
	}

	// Stage 5: LLM validation (skipped entirely for EXECUTOR, which auto-approves).
	if bot.Role != domain.RoleExecutor {
		engineSignals = p.validateWithLLM(ctx, engineSignals)
	}

	// Stage 6: LLM fallback path.
	if len(engineSignals) == 0 && len(candleSets) > 0 {
		fallback, ferr := p.llmFallback(ctx, bot, symbols, candleSets)
		if ferr == nil {
			engineSignals = fallback
		}
	}

	if len(engineSignals) == 0 {
		return p.logInfo(ctx, bot, "no candidate signals this cycle")
	}

	vix := p.vixOrZero(ctx)

	var executedCount, pendingCount int
	for _, es := range engineSignals {
		sig, executed, err := p.processCandidate(ctx, bot, isAgent, es, vix)
		if err != nil {
			if p.logger != nil {
				p.logger.Error(ctx, "candidate signal processing failed", err, map[string]interface{}{
					"bot_id": bot.ID.String(),
					"symbol": es.Symbol,
				})
			}
			continue
		}
		if sig == nil {
			continue // dropped by risk gate or coalesced into an existing pending signal
		}
		if executed {
			executedCount++
		} else {
			pendingCount++
		}
	}

	return p.logInfo(ctx, bot, fmt.Sprintf("cycle complete: %d executed, %d pending", executedCount, pendingCount))
}

// RunMarketScan executes the market-scan cycle: a single pass over the
// union of top gainers/losers that only ever persists PENDING signals.
func (p *Pipeline) RunMarketScan(ctx context.Context) error {
	gainers, losers, err := p.market.GetTopMovers(ctx, 10)
	if err != nil {
		return fmt.Errorf("top movers: %w", err)
	}
	seen := make(map[string]bool)
	var symbols []string
	combined := make([]domain.Mover, 0, len(gainers)+len(losers))
	combined = append(combined, gainers...)
	combined = append(combined, losers...)
	for _, m := range combined {
		if !seen[m.Symbol] {
			seen[m.Symbol] = true
			symbols = append(symbols, m.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	candleSets := p.fetchCandles(ctx, symbols)
	if len(candleSets) == 0 {
		return nil
	}

	var engineSignals []EngineSignal
	if p.engine.Available() {
		engineSignals, err = p.engine.Scan(ctx, ScanRequest{Symbols: candleSets, Aggressiveness: "medium"})
		if err != nil {
			engineSignals = nil
		}
	}
	engineSignals = p.validateWithLLM(ctx, engineSignals)

	vix := p.vixOrZero(ctx)
	for _, es := range engineSignals {
		if es.Confidence.LessThan(decimal.NewFromFloat(0.65)) {
			continue
		}
		gates := es.Gates
		var g domain.GateScores
		if gates != nil {
			g = *gates
		} else {
			g = deriveGates(es, vix, false)
		}
		sig := p.newSignal(uuid.Nil, "market-scan", es, g)
		if err := p.dedupeAndSave(ctx, sig); err != nil && p.logger != nil {
			p.logger.Error(ctx, "market scan signal save failed", err, nil)
		}
	}
	return nil
}

func (p *Pipeline) selectSymbols(ctx context.Context, bot *domain.Bot) ([]string, error) {
	if bot.Agent == nil {
		if len(bot.Symbols) > 0 {
			return bot.Symbols, nil
		}
		return domain.DefaultBotSymbols, nil
	}

	positions, err := p.store.OpenPositions(ctx, bot.StrategyID)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return domain.DefaultWatchlist, nil
	}
	seen := make(map[string]bool)
	var symbols []string
	for _, pos := range positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}
	return symbols, nil
}

const (
	minBarsRequired = 26
	maxBarsKept     = 50
)

func (p *Pipeline) fetchCandles(ctx context.Context, symbols []string) []SymbolCandles {
	if len(symbols) > p.cfg.MaxCandleSymbols {
		symbols = symbols[:p.cfg.MaxCandleSymbols]
	}

	now := time.Now()
	from := now.Add(-p.cfg.HistoryLookback)

	var out []SymbolCandles
	for _, sym := range symbols {
		exch := RouteExchange(sym)
		bars, err := p.market.GetHistory(ctx, sym, "5m", from, now, exch)
		if err != nil || len(bars) < minBarsRequired {
			continue
		}
		if len(bars) > maxBarsKept {
			bars = bars[len(bars)-maxBarsKept:]
		}
		out = append(out, SymbolCandles{Symbol: sym, Candles: bars})
	}
	return out
}

func (p *Pipeline) validateWithLLM(ctx context.Context, signals []EngineSignal) []EngineSignal {
	if len(signals) == 0 || p.llm.CircuitOpen() {
		return signals
	}
	out := make([]EngineSignal, 0, len(signals))
	for _, s := range signals {
		prompt := fmt.Sprintf(
			"Approve this trading signal given its indicators? Symbol %s direction %s confidence %s indicators %v. Respond in JSON: {\"approved\": bool, \"reason\": string}",
			s.Symbol, s.Direction, s.Confidence.String(), s.Indicators,
		)
		resp, err := p.llm.Complete(ctx, prompt)
		if err != nil {
			out = append(out, s) // default to approved on failure
			continue
		}
		if strings.Contains(strings.ToLower(resp), `"approved": false`) || strings.Contains(strings.ToLower(resp), `"approved":false`) {
			penalty := p.cfg.LLMRejectionPenalty
			if !penalty.IsPositive() {
				penalty = decimal.NewFromFloat(0.8)
			}
			s.Confidence = s.Confidence.Mul(penalty)
		}
		out = append(out, s)
	}
	return out
}

func (p *Pipeline) llmFallback(ctx context.Context, bot *domain.Bot, symbols []string, candleSets []SymbolCandles) ([]EngineSignal, error) {
	if p.llm.CircuitOpen() {
		return nil, fmt.Errorf("llm circuit open")
	}

	var quotes []string
	for _, sym := range symbols {
		q, err := p.market.GetQuote(ctx, sym, RouteExchange(sym))
		if err == nil && q.IsUsable() {
			quotes = append(quotes, fmt.Sprintf("%s=%s", sym, q.LTP.String()))
		}
	}

	positions, _ := p.store.OpenPositions(ctx, bot.StrategyID)

	prompt := fmt.Sprintf(
		"Given quotes %v and open positions %v, propose up to 5 trading signals as JSON array of "+
			"{symbol, direction, confidence, entry, stop_loss, target}. Only high-conviction ideas.",
		quotes, positions,
	)
	resp, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	signals := parseLLMSignals(resp)
	out := make([]EngineSignal, 0, len(signals))
	for _, s := range signals {
		if s.Confidence.GreaterThanOrEqual(decimal.NewFromFloat(0.6)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *Pipeline) vixOrZero(ctx context.Context) decimal.Decimal {
	q, err := p.market.GetQuote(ctx, "INDIA VIX", domain.ExchangeNSE)
	if err != nil || !q.IsUsable() {
		return decimal.Zero
	}
	return q.LTP
}

// processCandidate runs stages 7-13 for a single engine signal, returning
// the persisted signal (nil if dropped/coalesced) and whether it executed.
func (p *Pipeline) processCandidate(ctx context.Context, bot *domain.Bot, isAgent bool, es EngineSignal, vix decimal.Decimal) (*domain.Signal, bool, error) {
	// Stage 7: gate score derivation.
	var gates domain.GateScores
	if es.Gates != nil {
		gates = *es.Gates
	} else {
		gates = deriveGates(es, vix, false)
	}

	sig := p.newSignal(bot.ID, bot.StrategyID, es, gates)

	// Stage 8: risk gate.
	if p.risk != nil {
		if allowed, reason := p.risk.Allowed(bot.StrategyID); !allowed {
			if p.logger != nil {
				p.logger.Warn(ctx, "signal dropped by risk manager", map[string]interface{}{
					"strategy_id": bot.StrategyID,
					"reason":      reason,
				})
			}
			return nil, false, nil
		}
	}
	if isAgent {
		drawdown, computable, err := p.store.PortfolioDrawdownPercent(ctx, bot.StrategyID)
		if err == nil && computable {
			floor := p.cfg.RiskGateMaxDrawdown
			if !floor.IsPositive() {
				floor = decimal.NewFromInt(10)
			}
			if drawdown.GreaterThan(floor) {
				return nil, false, nil
			}
		}
	}

	// Duplicate avoidance / coalescing.
	existing, err := p.store.FindRecentPendingSignal(ctx, bot.StrategyID, sig.Symbol, sig.Type, time.Hour)
	if err == nil && existing != nil {
		existing.CompositeScore = sig.CompositeScore
		existing.Gates = sig.Gates
		existing.Rationale = sig.Rationale
		if err := p.store.SaveSignal(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	// Stage 9: execution decision.
	threshold := decimal.NewFromFloat(0.65)
	execute := false
	switch {
	case isAgent:
		execute = bot.Agent.Mode == domain.AgentModeAutonomous && sig.CompositeScore.GreaterThanOrEqual(threshold)
	default:
		execute = (bot.Role == domain.RoleExecutor || bot.Role == domain.RoleScanner) && es.Confidence.GreaterThanOrEqual(threshold)
	}

	if !execute {
		if es.Confidence.LessThan(threshold) {
			return nil, false, nil
		}
		sig.Status = domain.SignalPending
		if err := p.store.SaveSignal(ctx, sig); err != nil {
			return nil, false, err
		}
		if err := p.writeSignalMessage(ctx, bot, sig, domain.BotMessageSignal, "signal queued for review"); err != nil {
			return nil, false, err
		}
		return sig, false, nil
	}

	// Stage 10: execute.
	if err := p.execute(ctx, bot, sig); err != nil {
		return nil, false, err
	}
	if err := p.writeSignalMessage(ctx, bot, sig, domain.BotMessageTradeRequest, "signal executed"); err != nil {
		return nil, false, err
	}
	return sig, true, nil
}

// ExecuteSignal settles a PENDING signal against its bot's paper
// portfolio on demand, used by the manual execute endpoint rather than
// the cycle's own stage 9 decision. Callers must check sig.Status ==
// domain.SignalPending first.
func (p *Pipeline) ExecuteSignal(ctx context.Context, bot *domain.Bot, sig *domain.Signal) error {
	if err := p.execute(ctx, bot, sig); err != nil {
		return err
	}
	return p.writeSignalMessage(ctx, bot, sig, domain.BotMessageTradeRequest, "signal executed manually")
}

func (p *Pipeline) execute(ctx context.Context, bot *domain.Bot, sig *domain.Signal) error {
	trades, err := loadTrades(ctx, p.store, bot.StrategyID, sig.Symbol)
	if err != nil {
		trades = nil
	}
	allocation := positionAllocation(trades)

	nav, err := p.store.PortfolioNAV(ctx, bot.StrategyID)
	if err != nil || !nav.IsPositive() {
		nav = decimal.NewFromInt(100000)
	}

	quote, err := p.market.GetQuote(ctx, sig.Symbol, sig.Exchange)
	ltp := sig.EntryPrice
	if err == nil && quote.IsUsable() {
		ltp = quote.LTP
	}

	qty := quantityFor(nav, allocation, ltp)
	sig.PositionSize = allocation
	sig.Status = domain.SignalExecuted
	sig.ExecutedAt = time.Now()

	fill, netPnL, err := p.store.Execute(ctx, bot.StrategyID, sig, qty)
	if err != nil {
		return err
	}
	_ = fill

	if err := p.store.SaveSignal(ctx, sig); err != nil {
		return err
	}

	// Stage 11: outcome capture — only meaningful when Execute closed a
	// position and returned a realised PnL.
	if netPnL.IsZero() {
		return nil
	}
	outcome := classifyOutcome(netPnL)
	sig.OutcomeTag = outcome
	sig.ClosedAt = time.Now()
	if err := p.store.SaveSignal(ctx, sig); err != nil {
		return err
	}

	if p.risk != nil {
		p.risk.RecordOutcome(ctx, bot.StrategyID, outcome, netPnL)
	}

	return p.recordOutcomeAndMaybeAutoPause(ctx, bot, outcome)
}

// Stage 12: auto-pause.
func (p *Pipeline) recordOutcomeAndMaybeAutoPause(ctx context.Context, bot *domain.Bot, outcome domain.OutcomeTag) error {
	acc, err := p.store.LoadRollingAccuracy(ctx, bot.StrategyID, p.cfg.RollingWindow)
	if err != nil || acc == nil {
		acc = domain.NewRollingAccuracy(bot.StrategyID, p.cfg.RollingWindow)
	}
	acc.Record(outcome)
	if err := p.store.SaveRollingAccuracy(ctx, acc); err != nil {
		return err
	}

	floor := p.cfg.AutoPauseAccuracy
	if !floor.IsPositive() {
		floor = decimal.NewFromFloat(0.35)
	}
	if acc.ShouldAutoPause(floor, domain.MinAutoPauseSamples) {
		bot.Status = domain.BotStatusIdle
		detail := fmt.Sprintf("auto-paused: accuracy %s below floor", acc.Accuracy().StringFixed(2))
		if err := p.store.UpdateBotStatus(ctx, bot.ID, domain.BotStatusIdle, detail); err != nil {
			return err
		}
		if p.pauser != nil {
			p.pauser.StopBot(ctx, bot.ID)
		}
		msg := &domain.BotMessage{
			ID:        uuid.New(),
			BotID:     bot.ID,
			Type:      domain.BotMessageAlert,
			Text:      fmt.Sprintf("strategy %s auto-paused: accuracy %s below floor", bot.StrategyID, acc.Accuracy().StringFixed(2)),
			CreatedAt: time.Now(),
		}
		return p.store.SaveMessage(ctx, msg)
	}
	return nil
}

func (p *Pipeline) dedupeAndSave(ctx context.Context, sig *domain.Signal) error {
	existing, err := p.store.FindRecentPendingSignal(ctx, sig.StrategyID, sig.Symbol, sig.Type, time.Hour)
	if err == nil && existing != nil {
		existing.CompositeScore = sig.CompositeScore
		existing.Gates = sig.Gates
		existing.Rationale = sig.Rationale
		return p.store.SaveSignal(ctx, existing)
	}
	sig.Status = domain.SignalPending
	return p.store.SaveSignal(ctx, sig)
}

func (p *Pipeline) newSignal(botID uuid.UUID, strategyID string, es EngineSignal, gates domain.GateScores) *domain.Signal {
	now := time.Now()
	exch := RouteExchange(es.Symbol)
	return &domain.Signal{
		ID:             uuid.New(),
		BotID:          botID,
		StrategyID:     strategyID,
		Symbol:         es.Symbol,
		Exchange:       exch,
		Type:           es.Direction,
		CompositeScore: gates.Composite().Div(hundred),
		Gates:          gates,
		Rationale:      fmt.Sprintf("confidence %s, composite gate score %s", es.Confidence.StringFixed(2), gates.Composite().StringFixed(1)),
		Status:         domain.SignalPending,
		EntryPrice:     es.Entry,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func (p *Pipeline) writeSignalMessage(ctx context.Context, bot *domain.Bot, sig *domain.Signal, kind domain.BotMessageType, text string) error {
	msg := &domain.BotMessage{
		ID:    uuid.New(),
		BotID: bot.ID,
		Type:  kind,
		Text:  fmt.Sprintf("%s: %s %s", text, sig.Symbol, sig.Type),
		Metadata: map[string]any{
			"signal_id": sig.ID.String(),
			"status":    sig.Status,
		},
		CreatedAt: time.Now(),
	}
	return p.store.SaveMessage(ctx, msg)
}

func (p *Pipeline) logInfo(ctx context.Context, bot *domain.Bot, text string) error {
	msg := &domain.BotMessage{
		ID:        uuid.New(),
		BotID:     bot.ID,
		Type:      domain.BotMessageInfo,
		Text:      text,
		CreatedAt: time.Now(),
	}
	return p.store.SaveMessage(ctx, msg)
}
