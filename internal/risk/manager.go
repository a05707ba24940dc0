// Package risk tracks per-strategy risk state that sits above the signal
// pipeline's own per-cycle drawdown check: consecutive-loss and
// daily-loss halting, risk-state snapshots, and an explicit manual
// halt/resume switch an
// operator can use to pull a strategy out of rotation without touching
// the scheduler.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/pkg/observability"
)

// Profile holds the risk tolerances for one strategy. Strategies without
// a registered profile fall back to the Manager's defaults.
type Profile struct {
	StrategyID           string
	MaxConsecutiveLosses int
	MaxDailyLoss         decimal.Decimal
}

// Snapshot is the point-in-time risk state Manager exposes for a strategy.
type Snapshot struct {
	StrategyID        string          `json:"strategy_id"`
	Halted            bool            `json:"halted"`
	HaltReason        string          `json:"halt_reason,omitempty"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	DayStart          time.Time       `json:"day_start"`
}

// Manager is the portfolio-wide risk gate. It is safe for concurrent use
// across the scheduler's bot goroutines.
type Manager struct {
	logger *observability.Logger

	defaultMaxConsecutiveLosses int
	defaultMaxDailyLoss         decimal.Decimal

	mu       sync.Mutex
	profiles map[string]Profile
	state    map[string]*Snapshot
}

// Config seeds the Manager's portfolio-wide defaults, applied to any
// strategy without its own registered Profile.
type Config struct {
	DefaultMaxConsecutiveLosses int
	DefaultMaxDailyLoss         decimal.Decimal
}

// New creates a Manager with the given portfolio-wide defaults.
func New(logger *observability.Logger, cfg Config) *Manager {
	if cfg.DefaultMaxConsecutiveLosses <= 0 {
		cfg.DefaultMaxConsecutiveLosses = 5
	}
	if !cfg.DefaultMaxDailyLoss.IsPositive() {
		cfg.DefaultMaxDailyLoss = decimal.NewFromInt(5000)
	}
	return &Manager{
		logger:                      logger,
		defaultMaxConsecutiveLosses: cfg.DefaultMaxConsecutiveLosses,
		defaultMaxDailyLoss:         cfg.DefaultMaxDailyLoss,
		profiles:                    make(map[string]Profile),
		state:                       make(map[string]*Snapshot),
	}
}

// RegisterProfile overrides the default tolerances for one strategy.
func (m *Manager) RegisterProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.StrategyID] = p
}

func (m *Manager) limitsLocked(strategyID string) (maxLosses int, maxDailyLoss decimal.Decimal) {
	if p, ok := m.profiles[strategyID]; ok {
		maxLosses, maxDailyLoss = p.MaxConsecutiveLosses, p.MaxDailyLoss
	}
	if maxLosses <= 0 {
		maxLosses = m.defaultMaxConsecutiveLosses
	}
	if !maxDailyLoss.IsPositive() {
		maxDailyLoss = m.defaultMaxDailyLoss
	}
	return maxLosses, maxDailyLoss
}

func (m *Manager) snapshotLocked(strategyID string) *Snapshot {
	snap, ok := m.state[strategyID]
	if !ok {
		snap = &Snapshot{StrategyID: strategyID, DayStart: time.Now(), DailyPnL: decimal.Zero}
		m.state[strategyID] = snap
	}
	if !sameDay(snap.DayStart, time.Now()) {
		snap.DayStart = time.Now()
		snap.DailyPnL = decimal.Zero
	}
	return snap
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Allowed reports whether a strategy may place new signals. A halted
// strategy (manual or auto) is blocked until Resume is called.
func (m *Manager) Allowed(strategyID string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked(strategyID)
	if snap.Halted {
		return false, snap.HaltReason
	}
	return true, ""
}

// RecordOutcome updates a strategy's consecutive-loss streak and daily PnL
// after a trade closes, auto-halting the strategy when either the
// consecutive-loss or daily-loss limit is breached.
func (m *Manager) RecordOutcome(ctx context.Context, strategyID string, outcome domain.OutcomeTag, netPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked(strategyID)
	snap.DailyPnL = snap.DailyPnL.Add(netPnL)

	switch outcome {
	case domain.OutcomeLoss:
		snap.ConsecutiveLosses++
	case domain.OutcomeWin:
		snap.ConsecutiveLosses = 0
	}

	maxLosses, maxDailyLoss := m.limitsLocked(strategyID)
	switch {
	case snap.ConsecutiveLosses >= maxLosses:
		m.haltLocked(ctx, snap, "consecutive loss limit reached")
	case snap.DailyPnL.IsNegative() && snap.DailyPnL.Abs().GreaterThanOrEqual(maxDailyLoss):
		m.haltLocked(ctx, snap, "daily loss limit reached")
	}
}

// Halt manually stops a strategy from placing new signals until Resume
// is called.
func (m *Manager) Halt(ctx context.Context, strategyID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked(strategyID)
	m.haltLocked(ctx, snap, reason)
}

func (m *Manager) haltLocked(ctx context.Context, snap *Snapshot, reason string) {
	if snap.Halted {
		return
	}
	snap.Halted = true
	snap.HaltReason = reason
	if m.logger != nil {
		m.logger.Warn(ctx, "strategy halted by risk manager", map[string]interface{}{
			"strategy_id": snap.StrategyID,
			"reason":      reason,
		})
	}
}

// Resume clears a halt, manual or automatic, and resets the loss streak.
func (m *Manager) Resume(strategyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked(strategyID)
	snap.Halted = false
	snap.HaltReason = ""
	snap.ConsecutiveLosses = 0
}

// Snapshot returns the current risk state for a strategy.
func (m *Manager) Snapshot(strategyID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.snapshotLocked(strategyID)
}

// All returns a snapshot of every strategy the manager has seen.
func (m *Manager) All() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.state))
	for _, snap := range m.state {
		out = append(out, *snap)
	}
	return out
}
