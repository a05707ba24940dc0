package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHalfKellyFraction_ClampsToFloorAndCeiling(t *testing.T) {
	// Degenerate win/loss ratio always falls back to the 2% floor.
	assert.True(t, HalfKellyFraction(decimal.NewFromFloat(0.9), decimal.Zero).Equal(decimal.NewFromFloat(0.02)))

	// Very favourable edge clamps to the 15% ceiling.
	big := HalfKellyFraction(decimal.NewFromFloat(0.9), decimal.NewFromFloat(5))
	assert.True(t, big.Equal(decimal.NewFromFloat(0.15)))

	// A losing edge (low win rate, poor win/loss ratio) clamps to the floor.
	small := HalfKellyFraction(decimal.NewFromFloat(0.3), decimal.NewFromFloat(0.5))
	assert.True(t, small.Equal(decimal.NewFromFloat(0.02)))
}

func TestHalfKellyFraction_MidRangeIsHalfOfRawKelly(t *testing.T) {
	// p=0.6, b=1.5 => kelly = 0.6 - 0.4/1.5 = 0.3333; half = 0.16667, clamps to 0.15 ceiling.
	f := HalfKellyFraction(decimal.NewFromFloat(0.6), decimal.NewFromFloat(1.5))
	assert.True(t, f.Equal(decimal.NewFromFloat(0.15)))

	// p=0.55, b=1.0 => kelly = 0.55 - 0.45 = 0.1; half = 0.05, inside [0.02, 0.15].
	f2 := HalfKellyFraction(decimal.NewFromFloat(0.55), decimal.NewFromFloat(1.0))
	assert.True(t, f2.Equal(decimal.NewFromFloat(0.05)))
}

func TestRollingAccuracy_RecordTrimsToWindow(t *testing.T) {
	acc := NewRollingAccuracy("strat-1", 3)
	acc.Record(OutcomeWin)
	acc.Record(OutcomeWin)
	acc.Record(OutcomeLoss)
	acc.Record(OutcomeLoss)

	assert.Len(t, acc.Outcomes, 3)
	assert.Equal(t, []OutcomeTag{OutcomeWin, OutcomeLoss, OutcomeLoss}, acc.Outcomes)
}

func TestRollingAccuracy_ShouldAutoPause(t *testing.T) {
	// Window is the retention cap (production default 20), not the
	// sample-size floor: auto-pause must still fire at MinAutoPauseSamples
	// outcomes well before the window fills up.
	acc := NewRollingAccuracy("strat-1", 20)
	for i := 0; i < MinAutoPauseSamples-1; i++ {
		acc.Record(OutcomeLoss)
	}
	// Fewer samples than the minimum never triggers auto-pause.
	assert.False(t, acc.ShouldAutoPause(decimal.NewFromFloat(0.35), MinAutoPauseSamples))

	acc.Record(OutcomeLoss)
	assert.True(t, acc.ShouldAutoPause(decimal.NewFromFloat(0.35), MinAutoPauseSamples))

	acc2 := NewRollingAccuracy("strat-2", 20)
	for i := 0; i < MinAutoPauseSamples; i++ {
		acc2.Record(OutcomeWin)
	}
	assert.False(t, acc2.ShouldAutoPause(decimal.NewFromFloat(0.35), MinAutoPauseSamples))
}

func TestGateScores_CompositeIsMeanOfNine(t *testing.T) {
	g := GateScores{
		G1Trend: decimal.NewFromInt(90), G2Momentum: decimal.NewFromInt(90), G3Volatility: decimal.NewFromInt(90),
		G4Volume: decimal.NewFromInt(90), G5OptionsFlow: decimal.NewFromInt(90), G6GlobalMacro: decimal.NewFromInt(90),
		G7FiiDii: decimal.NewFromInt(90), G8Sentiment: decimal.NewFromInt(90), G9Risk: decimal.NewFromInt(90),
	}
	assert.True(t, g.Composite().Equal(decimal.NewFromInt(90)))
}

func TestQuote_IsUsable(t *testing.T) {
	var nilQuote *Quote
	assert.False(t, nilQuote.IsUsable())

	zero := &Quote{Symbol: "RELIANCE", LTP: decimal.Zero}
	assert.False(t, zero.IsUsable())

	ok := &Quote{Symbol: "RELIANCE", LTP: decimal.NewFromInt(2500)}
	assert.True(t, ok.IsUsable())
}

func TestAgentConfig_AllowsTrade(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	inactive := &AgentConfig{IsActive: false}
	assert.False(t, inactive.AllowsTrade(now))

	freshDay := &AgentConfig{IsActive: true, MaxDailyTrades: 3, TradesToday: 3, LastTradeDate: now.AddDate(0, 0, -1)}
	assert.True(t, freshDay.AllowsTrade(now))

	atLimit := &AgentConfig{IsActive: true, MaxDailyTrades: 3, TradesToday: 3, LastTradeDate: now}
	assert.False(t, atLimit.AllowsTrade(now))

	underLimit := &AgentConfig{IsActive: true, MaxDailyTrades: 3, TradesToday: 2, LastTradeDate: now}
	assert.True(t, underLimit.AllowsTrade(now))
}

func TestPosition_MarkToMarket_ShortSideNegatesDelta(t *testing.T) {
	long := &Position{Side: PositionLong, Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(100)}
	long.MarkToMarket(decimal.NewFromInt(110))
	assert.True(t, long.UnrealizedPnL.Equal(decimal.NewFromInt(100)))

	short := &Position{Side: PositionShort, Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(100)}
	short.MarkToMarket(decimal.NewFromInt(110))
	assert.True(t, short.UnrealizedPnL.Equal(decimal.NewFromInt(-100)))
}

func TestSignal_IsExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sig := &Signal{Status: SignalPending, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, sig.IsExpired(now))

	sig2 := &Signal{Status: SignalPending, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, sig2.IsExpired(now))

	sig3 := &Signal{Status: SignalExecuted, ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, sig3.IsExpired(now))
}
