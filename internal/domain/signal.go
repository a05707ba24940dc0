package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignalType is the directional call a signal makes.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// SignalStatus tracks a signal through its lifecycle.
type SignalStatus string

const (
	SignalPending  SignalStatus = "PENDING"
	SignalExecuted SignalStatus = "EXECUTED"
	SignalRejected SignalStatus = "REJECTED"
	SignalExpired  SignalStatus = "EXPIRED"
)

// OutcomeTag is recorded once a signal's resulting position is closed.
type OutcomeTag string

const (
	OutcomeWin       OutcomeTag = "WIN"
	OutcomeLoss      OutcomeTag = "LOSS"
	OutcomeBreakeven OutcomeTag = "BREAKEVEN"
)

// GateScores is the nine-gate score vector every candidate signal is run
// through before it reaches an execution decision. Each gate is a score
// in [0, 100].
type GateScores struct {
	G1Trend        decimal.Decimal `json:"g1_trend"`
	G2Momentum     decimal.Decimal `json:"g2_momentum"`
	G3Volatility   decimal.Decimal `json:"g3_volatility"`
	G4Volume       decimal.Decimal `json:"g4_volume"`
	G5OptionsFlow  decimal.Decimal `json:"g5_options_flow"`
	G6GlobalMacro  decimal.Decimal `json:"g6_global_macro"`
	G7FiiDii       decimal.Decimal `json:"g7_fii_dii"`
	G8Sentiment    decimal.Decimal `json:"g8_sentiment"`
	G9Risk         decimal.Decimal `json:"g9_risk"`

	Source     string         `json:"source,omitempty"`
	Indicators map[string]any `json:"indicators,omitempty"`
	Votes      map[string]int `json:"votes,omitempty"`
}

// Composite returns the unweighted mean across all nine gates.
func (g GateScores) Composite() decimal.Decimal {
	sum := g.G1Trend.Add(g.G2Momentum).Add(g.G3Volatility).Add(g.G4Volume).
		Add(g.G5OptionsFlow).Add(g.G6GlobalMacro).Add(g.G7FiiDii).Add(g.G8Sentiment).Add(g.G9Risk)
	return sum.Div(decimal.NewFromInt(9))
}

// Signal is one candidate trade decision produced by a pipeline cycle.
type Signal struct {
	ID             uuid.UUID       `json:"id"`
	BotID          uuid.UUID       `json:"bot_id"`
	StrategyID     string          `json:"strategy_id"`
	Symbol         string          `json:"symbol"`
	Exchange       Exchange        `json:"exchange"`
	Type           SignalType      `json:"type"`
	CompositeScore decimal.Decimal `json:"composite_score"`
	Gates          GateScores      `json:"gates"`
	Rationale      string          `json:"rationale"`
	Status         SignalStatus    `json:"status"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	PositionSize   decimal.Decimal `json:"position_size"`
	OutcomeTag     OutcomeTag      `json:"outcome_tag,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExecutedAt     time.Time       `json:"executed_at,omitempty"`
	ClosedAt       time.Time       `json:"closed_at,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// IsExpired reports whether the signal's execution window has passed.
func (s *Signal) IsExpired(now time.Time) bool {
	return s.Status == SignalPending && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// RollingAccuracy tracks the win ratio of a strategy over its most recent
// outcomes, used to auto-pause strategies that have gone cold.
type RollingAccuracy struct {
	StrategyID string       `json:"strategy_id"`
	Window     int          `json:"window"`
	Outcomes   []OutcomeTag `json:"outcomes"`
	Paused     bool         `json:"paused"`
}

// NewRollingAccuracy creates a tracker with the given window size.
func NewRollingAccuracy(strategyID string, window int) *RollingAccuracy {
	if window <= 0 {
		window = 20
	}
	return &RollingAccuracy{StrategyID: strategyID, Window: window}
}

// Record appends an outcome, trimming to the configured window.
func (r *RollingAccuracy) Record(outcome OutcomeTag) {
	r.Outcomes = append(r.Outcomes, outcome)
	if len(r.Outcomes) > r.Window {
		r.Outcomes = r.Outcomes[len(r.Outcomes)-r.Window:]
	}
}

// Accuracy returns the win ratio over the current window. Breakeven
// outcomes count against the denominator but not the numerator.
func (r *RollingAccuracy) Accuracy() decimal.Decimal {
	if len(r.Outcomes) == 0 {
		return decimal.NewFromInt(1)
	}
	wins := 0
	for _, o := range r.Outcomes {
		if o == OutcomeWin {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(r.Outcomes))))
}

// MinAutoPauseSamples is the minimum number of recorded outcomes before
// ShouldAutoPause will judge a tracker at all, independent of Window
// (Window is a retention cap, not a sample-size floor).
const MinAutoPauseSamples = 5

// ShouldAutoPause reports whether the tracker has enough samples to judge
// and has fallen below the configured accuracy floor. minSamples is the
// floor below which a tracker is never judged, regardless of Window.
func (r *RollingAccuracy) ShouldAutoPause(floor decimal.Decimal, minSamples int) bool {
	if len(r.Outcomes) < minSamples {
		return false
	}
	return r.Accuracy().LessThan(floor)
}
