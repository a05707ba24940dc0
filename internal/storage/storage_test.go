package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buySignal(symbol string, entry float64) *domain.Signal {
	return &domain.Signal{ID: uuid.New(), Symbol: symbol, Type: domain.SignalBuy, EntryPrice: decimal.NewFromFloat(entry)}
}

func sellSignal(symbol string, entry float64) *domain.Signal {
	return &domain.Signal{ID: uuid.New(), Symbol: symbol, Type: domain.SignalSell, EntryPrice: decimal.NewFromFloat(entry)}
}

func TestStore_Execute_BuyThenSellRealisesPnL(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	_, netPnL, err := store.Execute(ctx, "strat-1", buySignal("RELIANCE", 100), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, netPnL.IsZero())

	positions, err := store.OpenPositions(ctx, "strat-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionLong, positions[0].Side)
	assert.True(t, positions[0].Qty.Equal(decimal.NewFromInt(10)))

	_, netPnL, err = store.Execute(ctx, "strat-1", sellSignal("RELIANCE", 110), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, netPnL.Equal(decimal.NewFromInt(100)))

	positions, err = store.OpenPositions(ctx, "strat-1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades, err := store.RecentClosedTrades(ctx, "strat-1", "RELIANCE", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Win)
}

func TestStore_Execute_SellWithNoLongOpensShort(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	_, netPnL, err := store.Execute(ctx, "strat-1", sellSignal("USDINR", 83), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, netPnL.IsZero())

	positions, err := store.OpenPositions(ctx, "strat-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionShort, positions[0].Side)
}

func TestStore_Execute_BuyCoversExistingShort(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	_, _, err := store.Execute(ctx, "strat-1", sellSignal("USDINR", 83), decimal.NewFromInt(100))
	require.NoError(t, err)

	_, netPnL, err := store.Execute(ctx, "strat-1", buySignal("USDINR", 80), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, netPnL.Equal(decimal.NewFromInt(300)))

	positions, err := store.OpenPositions(ctx, "strat-1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestStore_PortfolioDrawdownPercent_TracksPeak(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	_, computable, err := store.PortfolioDrawdownPercent(ctx, "strat-1")
	require.NoError(t, err)
	assert.True(t, computable)

	_, _, err = store.Execute(ctx, "strat-1", buySignal("RELIANCE", 100), decimal.NewFromInt(1000))
	require.NoError(t, err)

	drawdown, computable, err := store.PortfolioDrawdownPercent(ctx, "strat-1")
	require.NoError(t, err)
	assert.True(t, computable)
	assert.True(t, drawdown.GreaterThanOrEqual(decimal.Zero))
}

func TestStore_RollingAccuracy_RoundTrips(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	acc, err := store.LoadRollingAccuracy(ctx, "strat-1", 5)
	require.NoError(t, err)
	acc.Record(domain.OutcomeWin)
	require.NoError(t, store.SaveRollingAccuracy(ctx, acc))

	reloaded, err := store.LoadRollingAccuracy(ctx, "strat-1", 5)
	require.NoError(t, err)
	assert.Len(t, reloaded.Outcomes, 1)
}
