package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrader-engine/internal/domain"
)

func testManager() *Manager {
	return New(nil, Config{DefaultMaxConsecutiveLosses: 3, DefaultMaxDailyLoss: decimal.NewFromInt(1000)})
}

func TestAllowedDefaultsToTrue(t *testing.T) {
	m := testManager()
	ok, reason := m.Allowed("strat-1")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestRecordOutcomeHaltsOnConsecutiveLosses(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-10))
	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-10))
	ok, _ := m.Allowed("strat-1")
	require.True(t, ok, "should not halt before the third consecutive loss")

	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-10))
	ok, reason := m.Allowed("strat-1")
	assert.False(t, ok)
	assert.Equal(t, "consecutive loss limit reached", reason)
}

func TestRecordOutcomeResetsStreakOnWin(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-10))
	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-10))
	m.RecordOutcome(ctx, "strat-1", domain.OutcomeWin, decimal.NewFromInt(50))

	snap := m.Snapshot("strat-1")
	assert.Equal(t, 0, snap.ConsecutiveLosses)
	ok, _ := m.Allowed("strat-1")
	assert.True(t, ok)
}

func TestRecordOutcomeHaltsOnDailyLoss(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-600))
	ok, _ := m.Allowed("strat-1")
	require.True(t, ok)

	m.RecordOutcome(ctx, "strat-1", domain.OutcomeLoss, decimal.NewFromInt(-500))
	ok, reason := m.Allowed("strat-1")
	assert.False(t, ok)
	assert.Equal(t, "daily loss limit reached", reason)
}

func TestHaltAndResume(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	m.Halt(ctx, "strat-1", "operator intervention")
	ok, reason := m.Allowed("strat-1")
	assert.False(t, ok)
	assert.Equal(t, "operator intervention", reason)

	m.Resume("strat-1")
	ok, _ = m.Allowed("strat-1")
	assert.True(t, ok)
}

func TestRegisterProfileOverridesDefaults(t *testing.T) {
	m := testManager()
	m.RegisterProfile(Profile{StrategyID: "strat-2", MaxConsecutiveLosses: 1})
	ctx := context.Background()

	m.RecordOutcome(ctx, "strat-2", domain.OutcomeLoss, decimal.NewFromInt(-10))
	ok, reason := m.Allowed("strat-2")
	assert.False(t, ok)
	assert.Equal(t, "consecutive loss limit reached", reason)
}

func TestAllIncludesEveryObservedStrategy(t *testing.T) {
	m := testManager()
	ctx := context.Background()
	m.RecordOutcome(ctx, "strat-1", domain.OutcomeWin, decimal.NewFromInt(10))
	m.RecordOutcome(ctx, "strat-2", domain.OutcomeLoss, decimal.NewFromInt(-10))

	all := m.All()
	assert.Len(t, all, 2)
}
