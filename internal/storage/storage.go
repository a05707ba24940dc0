// Package storage is the persistence boundary the pipeline talks to
// through pipeline.Store: signals and the bot message audit trail go to
// Postgres, while portfolio/position/rolling-accuracy state lives
// in-memory per process.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/internal/pipeline"
	"github.com/papertrader-engine/pkg/database"
	"github.com/papertrader-engine/pkg/observability"
	"github.com/shopspring/decimal"
)

const defaultStartingCash = "1000000"

// Ping reports whether the backing database connection is reachable. A
// nil db (in-memory-only test configuration) is always reported ready.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Health(ctx)
}

// Store implements pipeline.Store.
type Store struct {
	db     *database.DB
	logger *observability.Logger

	mu           sync.Mutex
	portfolios   map[string]*domain.Portfolio
	rolling      map[string]*domain.RollingAccuracy
	closedTrades map[string][]pipeline.ClosedTrade
	peakEquity   map[string]decimal.Decimal
}

// New builds a Store. db may be nil in tests that only exercise the
// in-memory portfolio/accuracy bookkeeping.
func New(db *database.DB, logger *observability.Logger) *Store {
	return &Store{
		db:           db,
		logger:       logger,
		portfolios:   make(map[string]*domain.Portfolio),
		rolling:      make(map[string]*domain.RollingAccuracy),
		closedTrades: make(map[string][]pipeline.ClosedTrade),
		peakEquity:   make(map[string]decimal.Decimal),
	}
}

func (s *Store) portfolioLocked(strategyID string) *domain.Portfolio {
	p, ok := s.portfolios[strategyID]
	if !ok {
		cash, _ := decimal.NewFromString(defaultStartingCash)
		p = &domain.Portfolio{
			ID:         uuid.New(),
			StrategyID: strategyID,
			Cash:       cash,
			Positions:  make(map[string]*domain.Position),
			Equity:     cash,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		s.portfolios[strategyID] = p
		s.peakEquity[strategyID] = cash
	}
	return p
}

// FindRecentPendingSignal queries Postgres for a still-pending signal on
// the same strategy/symbol/direction created within the lookback window,
// so the pipeline can coalesce into it rather than open a duplicate.
func (s *Store) FindRecentPendingSignal(ctx context.Context, strategyID, symbol string, signalType domain.SignalType, within time.Duration) (*domain.Signal, error) {
	if s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, strategy_id, symbol, exchange, type, composite_score, gates,
		       rationale, status, entry_price, position_size, outcome_tag,
		       created_at, executed_at, closed_at, expires_at
		FROM signals
		WHERE strategy_id = $1 AND symbol = $2 AND type = $3 AND status = $4
		  AND created_at >= $5
		ORDER BY created_at DESC
		LIMIT 1`,
		strategyID, symbol, string(signalType), string(domain.SignalPending), time.Now().Add(-within),
	)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sig, err
}

// SaveSignal upserts a signal row.
func (s *Store) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	if s.db == nil {
		return nil
	}
	gates, err := json.Marshal(sig.Gates)
	if err != nil {
		return fmt.Errorf("marshal gates: %w", err)
	}
	_, err = s.db.ExecWithMetrics(ctx, `
		INSERT INTO signals (
			id, bot_id, strategy_id, symbol, exchange, type, composite_score, gates,
			rationale, status, entry_price, position_size, outcome_tag,
			created_at, executed_at, closed_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			composite_score = EXCLUDED.composite_score,
			gates = EXCLUDED.gates,
			rationale = EXCLUDED.rationale,
			status = EXCLUDED.status,
			position_size = EXCLUDED.position_size,
			outcome_tag = EXCLUDED.outcome_tag,
			executed_at = EXCLUDED.executed_at,
			closed_at = EXCLUDED.closed_at`,
		sig.ID, sig.BotID, sig.StrategyID, sig.Symbol, string(sig.Exchange), string(sig.Type),
		sig.CompositeScore.String(), gates, sig.Rationale, string(sig.Status),
		sig.EntryPrice.String(), sig.PositionSize.String(), string(sig.OutcomeTag),
		sig.CreatedAt, nullTime(sig.ExecutedAt), nullTime(sig.ClosedAt), sig.ExpiresAt,
	)
	return err
}

// SaveMessage appends one entry to the bot message audit trail.
func (s *Store) SaveMessage(ctx context.Context, m *domain.BotMessage) error {
	if s.db == nil {
		return nil
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecWithMetrics(ctx, `
		INSERT INTO bot_messages (id, bot_id, type, text, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.BotID, string(m.Type), m.Text, meta, m.CreatedAt,
	)
	return err
}

// LoadRollingAccuracy returns the in-process tracker for a strategy,
// creating one at the configured window if none exists yet.
func (s *Store) LoadRollingAccuracy(ctx context.Context, strategyID string, window int) (*domain.RollingAccuracy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.rolling[strategyID]
	if !ok {
		acc = domain.NewRollingAccuracy(strategyID, window)
		s.rolling[strategyID] = acc
	}
	cp := *acc
	cp.Outcomes = append([]domain.OutcomeTag(nil), acc.Outcomes...)
	return &cp, nil
}

// SaveRollingAccuracy persists the tracker back into the in-process map.
func (s *Store) SaveRollingAccuracy(ctx context.Context, r *domain.RollingAccuracy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolling[r.StrategyID] = r
	return nil
}

// OpenPositions lists a strategy's currently open positions.
func (s *Store) OpenPositions(ctx context.Context, strategyID string) ([]pipeline.OpenPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.portfolioLocked(strategyID)
	out := make([]pipeline.OpenPosition, 0, len(p.Positions))
	for _, pos := range p.Positions {
		out = append(out, pipeline.OpenPosition{Symbol: pos.Symbol, Side: pos.Side, Qty: pos.Quantity})
	}
	return out, nil
}

// RecentClosedTrades returns up to limit closed trades for a symbol, most
// recent first, used by the Kelly sizing calculation.
func (s *Store) RecentClosedTrades(ctx context.Context, strategyID, symbol string, limit int) ([]pipeline.ClosedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.closedTrades[strategyID]
	var filtered []pipeline.ClosedTrade
	for i := len(all) - 1; i >= 0 && len(filtered) < limit; i-- {
		if symbol == "" || all[i].Symbol == symbol {
			filtered = append(filtered, all[i])
		}
	}
	return filtered, nil
}

// PortfolioNAV returns cash plus positions marked at their average price.
func (s *Store) PortfolioNAV(ctx context.Context, strategyID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navLocked(strategyID), nil
}

func (s *Store) navLocked(strategyID string) decimal.Decimal {
	p := s.portfolioLocked(strategyID)
	nav := p.Cash
	for _, pos := range p.Positions {
		nav = nav.Add(pos.Quantity.Mul(pos.AvgPrice))
	}
	return nav
}

// PortfolioDrawdownPercent reports the drawdown from the strategy's
// highest observed NAV. The first call records the current NAV as the
// peak and already reports a computable zero drawdown; computable is
// false only when the peak NAV is not positive.
func (s *Store) PortfolioDrawdownPercent(ctx context.Context, strategyID string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav := s.navLocked(strategyID)
	peak, ok := s.peakEquity[strategyID]
	if !ok || nav.GreaterThan(peak) {
		s.peakEquity[strategyID] = nav
		peak = nav
	}
	if !peak.IsPositive() {
		return decimal.Zero, false, nil
	}
	drawdown := peak.Sub(nav).Div(peak).Mul(decimal.NewFromInt(100))
	return drawdown, true, nil
}

// Execute settles a signal against the strategy's paper portfolio. BUY
// opens or adds to a long; SELL closes an existing long (realising PnL)
// or, with none open, opens a short.
func (s *Store) Execute(ctx context.Context, strategyID string, sig *domain.Signal, quantity decimal.Decimal) (*domain.Fill, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.portfolioLocked(strategyID)
	price := sig.EntryPrice
	if !price.IsPositive() {
		price = decimal.NewFromInt(1)
	}

	pos, hasPosition := p.Positions[sig.Symbol]
	fill := &domain.Fill{
		ID:        uuid.New(),
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now(),
	}

	var netPnL decimal.Decimal

	switch {
	case sig.Type == domain.SignalBuy && (!hasPosition || pos.Side == domain.PositionLong):
		fill.Side = domain.PositionLong
		p.Cash = p.Cash.Sub(quantity.Mul(price))
		if !hasPosition {
			pos = &domain.Position{Symbol: sig.Symbol, Side: domain.PositionLong, OpenedAt: time.Now()}
			p.Positions[sig.Symbol] = pos
		}
		totalQty := pos.Quantity.Add(quantity)
		totalCost := pos.Quantity.Mul(pos.AvgPrice).Add(quantity.Mul(price))
		if totalQty.IsPositive() {
			pos.AvgPrice = totalCost.Div(totalQty)
		}
		pos.Quantity = totalQty
		pos.LastPrice = price
		pos.UpdatedAt = time.Now()

	case sig.Type == domain.SignalBuy && hasPosition && pos.Side == domain.PositionShort:
		// Covers an existing short.
		fill.Side = domain.PositionShort
		closeQty := decimal.Min(quantity, pos.Quantity)
		netPnL = pos.AvgPrice.Sub(price).Mul(closeQty)
		p.Cash = p.Cash.Add(netPnL).Add(closeQty.Mul(pos.AvgPrice))
		p.RealizedPnL = p.RealizedPnL.Add(netPnL)
		s.recordClosedTrade(strategyID, sig.Symbol, netPnL)
		pos.Quantity = pos.Quantity.Sub(closeQty)
		if pos.Quantity.IsZero() {
			delete(p.Positions, sig.Symbol)
		} else {
			pos.UpdatedAt = time.Now()
		}

	case sig.Type == domain.SignalSell && hasPosition && pos.Side == domain.PositionLong:
		fill.Side = domain.PositionLong
		closeQty := decimal.Min(quantity, pos.Quantity)
		netPnL = price.Sub(pos.AvgPrice).Mul(closeQty)
		p.Cash = p.Cash.Add(closeQty.Mul(price))
		p.RealizedPnL = p.RealizedPnL.Add(netPnL)
		s.recordClosedTrade(strategyID, sig.Symbol, netPnL)
		pos.Quantity = pos.Quantity.Sub(closeQty)
		if pos.Quantity.IsZero() {
			delete(p.Positions, sig.Symbol)
		} else {
			pos.UpdatedAt = time.Now()
		}

	default: // SELL with no existing long opens a short.
		fill.Side = domain.PositionShort
		p.Cash = p.Cash.Add(quantity.Mul(price))
		if !hasPosition {
			pos = &domain.Position{Symbol: sig.Symbol, Side: domain.PositionShort, OpenedAt: time.Now()}
			p.Positions[sig.Symbol] = pos
		}
		totalQty := pos.Quantity.Add(quantity)
		totalValue := pos.Quantity.Mul(pos.AvgPrice).Add(quantity.Mul(price))
		if totalQty.IsPositive() {
			pos.AvgPrice = totalValue.Div(totalQty)
		}
		pos.Quantity = totalQty
		pos.LastPrice = price
		pos.UpdatedAt = time.Now()
	}

	p.Equity = s.navLocked(strategyID)
	p.UpdatedAt = time.Now()

	return fill, netPnL, nil
}

func (s *Store) recordClosedTrade(strategyID, symbol string, pnl decimal.Decimal) {
	s.closedTrades[strategyID] = append(s.closedTrades[strategyID], pipeline.ClosedTrade{
		Symbol:   symbol,
		PnL:      pnl,
		Win:      pnl.IsPositive(),
		ClosedAt: time.Now(),
	})
}

// UpdateBotStatus persists a bot's status and last-action detail (a short,
// human-readable description of why the bot stopped — a cycle failure or
// an auto-pause). Used by the pipeline's auto-pause stage, the
// scheduler's cycle-failure handler, and the bot start/stop HTTP
// handlers, which pass an empty detail.
func (s *Store) UpdateBotStatus(ctx context.Context, botID uuid.UUID, status domain.BotStatus, lastAction string) error {
	if s.db == nil {
		return nil
	}
	now := time.Now()
	_, err := s.db.ExecWithMetrics(ctx, `
		UPDATE bots SET status = $1, last_error = $2, last_action = $2, last_action_at = $3, updated_at = $4 WHERE id = $5`,
		string(status), lastAction, now, now, botID,
	)
	return err
}

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var (
		sig                              domain.Signal
		exchange, sigType, status        string
		compositeScore, entryPrice, size string
		gatesRaw                         []byte
		outcomeTag                       sql.NullString
		executedAt, closedAt             sql.NullTime
	)
	if err := row.Scan(
		&sig.ID, &sig.BotID, &sig.StrategyID, &sig.Symbol, &exchange, &sigType,
		&compositeScore, &gatesRaw, &sig.Rationale, &status, &entryPrice, &size,
		&outcomeTag, &sig.CreatedAt, &executedAt, &closedAt, &sig.ExpiresAt,
	); err != nil {
		return nil, err
	}
	sig.Exchange = domain.Exchange(exchange)
	sig.Type = domain.SignalType(sigType)
	sig.Status = domain.SignalStatus(status)
	sig.OutcomeTag = domain.OutcomeTag(outcomeTag.String)
	sig.CompositeScore = parseDecimal(compositeScore)
	sig.EntryPrice = parseDecimal(entryPrice)
	sig.PositionSize = parseDecimal(size)
	if executedAt.Valid {
		sig.ExecutedAt = executedAt.Time
	}
	if closedAt.Valid {
		sig.ClosedAt = closedAt.Time
	}
	if len(gatesRaw) > 0 {
		_ = json.Unmarshal(gatesRaw, &sig.Gates)
	}
	return &sig, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// schemaStatements create the tables Store reads and writes; Migrate
// runs them, and cmd/papertrader calls Migrate at startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		symbols TEXT[] NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT,
		last_action TEXT,
		last_action_at TIMESTAMPTZ,
		last_run_at TIMESTAMPTZ,
		strategy_id TEXT,
		total_trades INTEGER NOT NULL DEFAULT 0,
		total_pnl NUMERIC NOT NULL DEFAULT 0,
		win_rate NUMERIC NOT NULL DEFAULT 0,
		used_capital NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id UUID PRIMARY KEY,
		bot_id UUID NOT NULL,
		strategy_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		type TEXT NOT NULL,
		composite_score NUMERIC NOT NULL,
		gates JSONB,
		rationale TEXT,
		status TEXT NOT NULL,
		entry_price NUMERIC,
		position_size NUMERIC,
		outcome_tag TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		executed_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS signals_strategy_symbol_idx ON signals (strategy_id, symbol, status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS bot_messages (
		id UUID PRIMARY KEY,
		bot_id UUID NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate runs the package's schema statements against db.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
